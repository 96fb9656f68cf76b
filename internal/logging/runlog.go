package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunLog is the size-capped append log that accumulates output across runs.
// It implements io.Writer and is safe for concurrent use.
type RunLog struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	limit int64
	keep  int
	size  int64
}

// OpenRunLog opens or creates the run log at path. The file rotates once it
// grows past maxSizeMB, keeping maxBackups rotated copies.
func OpenRunLog(path string, maxSizeMB int, maxBackups int) (*RunLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	rl := &RunLog{
		path:  path,
		limit: int64(maxSizeMB) * 1024 * 1024,
		keep:  maxBackups,
	}
	if maxSizeMB <= 0 {
		rl.limit = 10 * 1024 * 1024
	}
	if maxBackups <= 0 {
		rl.keep = 3
	}

	if err := rl.open(); err != nil {
		return nil, err
	}
	return rl, nil
}

// Banner writes a per-run header so successive runs are easy to tell apart
// when reading the accumulated log.
func (rl *RunLog) Banner(version, runID string) {
	fmt.Fprintf(rl, "---- run %s version=%s at %s ----\n",
		runID, version, time.Now().Format(time.RFC3339))
}

// Path returns the log file location for user-facing messages.
func (rl *RunLog) Path() string {
	return rl.path
}

// Write appends to the log, rotating first when p would push the file past
// the size cap.
func (rl *RunLog) Write(p []byte) (int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.size+int64(len(p)) > rl.limit {
		if err := rl.rotate(); err != nil {
			return 0, fmt.Errorf("log rotation: %w", err)
		}
	}

	n, err := rl.file.Write(p)
	rl.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (rl *RunLog) Close() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.file == nil {
		return nil
	}
	return rl.file.Close()
}

// TeeWriter duplicates writes to both destinations.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

func (rl *RunLog) open() error {
	f, err := os.OpenFile(rl.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	rl.file = f
	rl.size = st.Size()
	return nil
}

// rotate ages the numbered backups up one slot, dropping the oldest, then
// moves the current file to .1 and reopens.
func (rl *RunLog) rotate() error {
	if rl.file != nil {
		rl.file.Close()
	}

	for i := rl.keep; i >= 2; i-- {
		if i == rl.keep {
			os.Remove(rl.numbered(i))
		}
		os.Rename(rl.numbered(i-1), rl.numbered(i))
	}
	os.Rename(rl.path, rl.numbered(1))

	return rl.open()
}

func (rl *RunLog) numbered(index int) string {
	if index == 0 {
		return rl.path
	}
	return fmt.Sprintf("%s.%d", rl.path, index)
}
