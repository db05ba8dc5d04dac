package supervisor

import (
	"os"
	"path/filepath"
	"sync"
)

// defaultSinkCap bounds a single component's append-only log file,
// per §4.2 "redirects standard streams to a per-component append
// sink." When a write would cross the cap the sink truncates and
// starts over rather than growing without bound — a coarse
// discard-oldest policy; it trades exact byte-level retention for
// never needing to read the file back to trim it.
const defaultSinkCap = 8 << 20 // 8 MiB

// LogSink is an io.Writer backing one component's combined
// stdout/stderr stream.
type LogSink struct {
	mu   sync.Mutex
	file *os.File
	size int64
	cap  int64
}

// NewLogSink opens (creating if necessary) the log file for component
// name under dir.
func NewLogSink(dir, name string) (*LogSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &LogSink{file: f, size: info.Size(), cap: defaultSinkCap}, nil
}

// Write implements io.Writer, truncating the underlying file to empty
// once a write would exceed the sink's cap.
func (s *LogSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size+int64(len(p)) > s.cap {
		if err := s.file.Truncate(0); err != nil {
			return 0, err
		}
		if _, err := s.file.Seek(0, 0); err != nil {
			return 0, err
		}
		s.size = 0
	}

	n, err := s.file.Write(p)
	s.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
