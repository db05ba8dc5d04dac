// Command initctl is the CLI client for initd's control surface: it
// sends one line per subcommand over the control Unix socket and
// prints back whatever the daemon replies.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	survey "github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

var socketPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "initctl: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "initctl",
	Short:   "Inspect and control a running initd instance",
	Version: "dev",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/run/initd/control.sock", "control protocol Unix socket path")

	rootCmd.AddCommand(
		statusCmd(),
		capabilitiesCmd(),
		treeCmd(),
		reverseDependenciesCmd(),
		simulateRemoveCmd(),
		exportGraphCmd(),
		logCmd(),
		pendingCmd(),
		resolveCmd(),
		reloadCmd(),
		upgradeCmd(),
		checkpointCmd(),
		restoreCmd(),
		checkpointListCmd(),
		checkpointRemoveCmd(),
		checkCyclesCmd(),
		validateCmd(),
		kexecCmd(),
	)
}

// runLine sends args as a single control-protocol line and prints the
// reply, failing the command on a transport error or an ERROR reply.
func runLine(args ...string) error {
	reply, err := send(socketPath, args...)
	if err != nil {
		return err
	}
	if strings.HasPrefix(reply, "ERROR") {
		return fmt.Errorf("%s", reply)
	}
	fmt.Println(reply)
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [component]",
		Short: "Show every component's state, or one component's detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runLine(append([]string{"status"}, args...)...)
		},
	}
}

func capabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List every capability and its active provider",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLine("capabilities")
		},
	}
}

func treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the dependency graph's topological layers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLine("tree")
		},
	}
}

func reverseDependenciesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reverse-dependencies <capability>",
		Short: "List components that require a capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runLine("reverse-dependencies", args[0])
		},
	}
}

func simulateRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate-remove <component>",
		Short: "Show which components would be affected by removing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runLine("simulate-remove", args[0])
		},
	}
}

func exportGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-graph",
		Short: "Export the dependency graph as Graphviz DOT",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLine("export-graph")
		},
	}
}

func logCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "log <component>",
		Short: "Tail a component's log sink",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runLine("log", args[0], strconv.Itoa(lines))
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 50, "number of trailing lines to show")
	return cmd
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List components blocked on unsatisfied requirements",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLine("pending")
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Force a resolver fixed-point pass",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLine("resolve")
		},
	}
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-scan the manifest directory",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLine("reload")
		},
	}
}

func upgradeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "upgrade <component>",
		Short: "Replace a live component's process via its upgrade strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if !yes {
				ok, err := confirm(fmt.Sprintf("Upgrade %q now? This may briefly interrupt its provided capabilities.", args[0]))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("aborted")
					return nil
				}
			}
			return runLine("upgrade", args[0])
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func checkpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <component>",
		Short: "Take an on-demand checkpoint of a running component",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runLine("checkpoint", args[0])
		},
	}
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <component> [id]",
		Short: "Restore a component from a named or the latest checkpoint",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runLine(append([]string{"restore"}, args...)...)
		},
	}
}

func checkpointListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint-list [component]",
		Short: "List persisted checkpoint records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runLine(append([]string{"checkpoint-list"}, args...)...)
		},
	}
}

func checkpointRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint-rm <id>",
		Short: "Remove a checkpoint record",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runLine("checkpoint-rm", args[0])
		},
	}
}

func checkCyclesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-cycles",
		Short: "Report any dependency cycles in the manifest graph",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLine("check-cycles")
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the manifest graph is acyclic and orderable",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLine("validate")
		},
	}
}

func kexecCmd() *cobra.Command {
	var dryRun bool
	var yes bool
	cmd := &cobra.Command{
		Use:   "kexec",
		Short: "Perform (or simulate) a live kernel replace",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if dryRun {
				return runLine("kexec", "--dry-run")
			}
			if !yes {
				ok, err := confirm("Replace the running kernel now? Every component will be checkpointed or drained first, but this cannot be undone.")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("aborted")
					return nil
				}
			}
			return runLine("kexec")
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would happen without replacing the kernel")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// confirm prompts the operator before a destructive control command,
// mirroring the teacher pack's confirmation flow for its own
// irreversible certificate-rotation operations.
func confirm(message string) (bool, error) {
	ok := false
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return ok, nil
}
