package handoff

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/initd/pkg/errs"
	"github.com/cuemby/initd/pkg/types"
)

// checkpointTool and restoreTool are the external checkpoint/restore
// binaries invoked as subprocesses, per §4.4 "(treated as
// upgrade-strategy variants)" — initd never reimplements process
// checkpointing itself, it shells out to a purpose-built tool exactly
// the way the teacher's codebase shells out to external runtimes
// rather than reimplementing them.
var (
	checkpointTool = "criu"
	restoreTool    = "criu"
)

// Dump checkpoints a running process to disk and returns its metadata
// record. It does not write to a Store; the caller persists the record
// (Engine.checkpointRestore and the control surface's checkpoint
// command call Store.Put), per §4.4's strategy ladder item
// "checkpoint-restore".
func Dump(ctx context.Context, dumpDir string, c *types.Component, pid int) (types.CheckpointRecord, error) {
	id := uuid.NewString()
	path := filepath.Join(dumpDir, id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return types.CheckpointRecord{}, fmt.Errorf("create dump dir: %w", err)
	}

	args := []string{"dump", "-t", fmt.Sprint(pid), "--images-dir", path}
	if c.Checkpoint.LeaveRunning {
		args = append(args, "--leave-running")
	}
	if c.Checkpoint.PreserveFDs {
		args = append(args, "--file-locks")
	}

	cmd := exec.CommandContext(ctx, checkpointTool, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return types.CheckpointRecord{}, errs.New(errs.ExternalTool, checkpointTool+" dump", fmt.Errorf("%w: %s", err, output))
	}

	size, _ := dirSize(path)

	rec := types.CheckpointRecord{
		ID:                    id,
		Component:             c.Name,
		OriginalPID:           pid,
		Timestamp:             time.Now(),
		ImageSize:             size,
		Capabilities:          append([]string(nil), c.Provides...),
		CheckpointToolVersion: toolVersion(ctx),
		DumpPath:              path,
	}
	return rec, nil
}

// Restore spawns a new instance of rec's component process from a
// previously dumped image, returning its PID once the restore tool reports the
// new process is running.
func Restore(ctx context.Context, rec types.CheckpointRecord) (int, error) {
	cmd := exec.CommandContext(ctx, restoreTool, "restore", "--images-dir", rec.DumpPath, "--restore-detached")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, errs.New(errs.ExternalTool, restoreTool+" restore", fmt.Errorf("%w: %s", err, output))
	}
	pid, err := parseRestoredPID(output)
	if err != nil {
		return 0, fmt.Errorf("parse restored pid: %w", err)
	}
	return pid, nil
}

func toolVersion(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, checkpointTool, "--version").Output()
	if err != nil {
		return "unknown"
	}
	return trimNewline(string(out))
}

func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// parseRestoredPID pulls the new process's PID out of the restore
// tool's --restore-detached output, which prints it as the sole line
// of stdout.
func parseRestoredPID(output []byte) (int, error) {
	var pid int
	_, err := fmt.Sscanf(trimNewline(string(output)), "%d", &pid)
	return pid, err
}
