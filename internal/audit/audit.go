// Package audit writes a tamper-evident journal of every mutating operation
// a run performs: backups, patches, signing, installs, rollbacks, restores.
// The run log is for reading; this JSONL file is for proving what happened.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/reseed/internal/config"
	"github.com/breeze-rmm/reseed/internal/logging"
)

var log = logging.L("audit")

// Event types. One entry per mutating operation, plus run boundaries.
const (
	EventRunStart          = "run_start"
	EventRunEnd            = "run_end"
	EventBackupCreated     = "backup_created"
	EventResourcePatched   = "resource_patched"
	EventBundleSigned      = "bundle_signed"
	EventSignDegraded      = "sign_degraded"
	EventBundleInstalled   = "bundle_installed"
	EventRollback          = "rollback"
	EventStorageRewritten  = "storage_rewritten"
	EventBackupRestored    = "backup_restored"
	EventQuarantineCleared = "quarantine_cleared"
	EventLogRotated        = "log_rotated"
)

// criticalEvents get an fsync after the write. Losing one of these to a
// crash would hide that the bundle on disk changed.
var criticalEvents = map[string]bool{
	EventRunStart:        true,
	EventRunEnd:          true,
	EventBundleInstalled: true,
	EventRollback:        true,
	EventBackupRestored:  true,
}

// Entry is one journal record. EntryHash covers the other fields, and
// PrevHash repeats the previous record's EntryHash, chaining the file.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"eventType"`
	RunID     string         `json:"runId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Logger appends hash-chained JSONL records. Rotation starts the new file
// with a sentinel entry whose PrevHash carries the chain across from the
// rotated-out file.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	limit   int64
	keep    int
	size    int64
	tip     string
	dropped atomic.Int64
}

// NewLogger opens the journal next to the run log file.
func NewLogger(cfg *config.Config) (*Logger, error) {
	dir := os.TempDir()
	if cfg.LogFile != "" {
		dir = filepath.Dir(cfg.LogFile)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	l := &Logger{
		path:  filepath.Join(dir, "reseed-audit.jsonl"),
		limit: int64(cfg.AuditMaxSizeMB) * 1024 * 1024,
		keep:  cfg.AuditMaxBackups,
		tip:   "genesis",
	}
	if cfg.AuditMaxSizeMB <= 0 {
		l.limit = 50 * 1024 * 1024
	}
	if l.keep <= 0 {
		l.keep = 3
	}

	if err := l.open(); err != nil {
		return nil, err
	}

	log.Info("audit journal opened", "path", l.path)
	return l, nil
}

// Log records one event. The chain tip only advances after the record is on
// disk, so a failed write never leaves a gap: the next entry re-links to
// the same PrevHash. Safe to call on a nil receiver (no-op).
func (l *Logger) Log(eventType string, runID string, details map[string]any) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		RunID:     runID,
		Details:   details,
		PrevHash:  l.tip,
	}

	line, err := seal(&entry)
	if err != nil {
		log.Error("audit entry not sealed", logging.KeyError, err, "eventType", eventType)
		l.dropped.Add(1)
		return
	}
	if err := l.append(line); err != nil {
		log.Error("audit entry not written", logging.KeyError, err, "eventType", eventType)
		l.dropped.Add(1)
		return
	}
	l.tip = entry.EntryHash

	if criticalEvents[eventType] {
		if err := l.file.Sync(); err != nil {
			log.Error("audit fsync failed, durability not guaranteed",
				logging.KeyError, err, "eventType", eventType)
		}
	}
}

// Close flushes and closes the journal file.
// Safe to call on a nil receiver (no-op).
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Path returns the journal file location.
// Safe to call on a nil receiver.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// DroppedCount reports how many entries failed to write. A nil receiver
// returns -1, distinguishing "journal unavailable" from "zero drops".
func (l *Logger) DroppedCount() int64 {
	if l == nil {
		return -1
	}
	return l.dropped.Load()
}

// append writes one sealed line, rotating first when the line would push
// the journal past its size limit.
func (l *Logger) append(line []byte) error {
	if l.size+int64(len(line)) > l.limit {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}

	n, err := l.file.Write(line)
	if err != nil {
		return err
	}
	l.size += int64(n)
	return nil
}

func (l *Logger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open audit journal: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit journal: %w", err)
	}

	l.file = f
	l.size = st.Size()
	return nil
}

// rotate moves the full journal aside and begins the new file with a
// sentinel entry linking back to the old chain. A lost sentinel marks the
// chain broken rather than failing the rotation: the journal keeps
// accepting entries either way.
func (l *Logger) rotate() error {
	carried := l.tip

	if l.file != nil {
		l.file.Close()
	}
	l.shiftBackups()
	if err := os.Rename(l.path, l.numbered(1)); err != nil && !os.IsNotExist(err) {
		log.Warn("audit rotation: cannot move current journal", logging.KeyError, err)
	}
	if err := l.open(); err != nil {
		return err
	}

	sentinel := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: EventLogRotated,
		PrevHash:  carried,
		Details: map[string]any{
			"previousFile": l.numbered(1),
		},
	}
	line, err := seal(&sentinel)
	if err == nil {
		var n int
		n, err = l.file.Write(line)
		l.size += int64(n)
	}
	if err != nil {
		log.Error("rotation sentinel lost, chain broken", logging.KeyError, err)
		l.dropped.Add(1)
		l.tip = "chain-broken"
		return nil
	}
	l.tip = sentinel.EntryHash
	return nil
}

// shiftBackups ages the numbered backups by one slot. The oldest is
// removed, freeing .1 for the file about to rotate out.
func (l *Logger) shiftBackups() {
	for i := l.keep; i >= 2; i-- {
		dst := l.numbered(i)
		if i == l.keep {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				log.Warn("audit rotation: cannot remove oldest backup", "path", dst, logging.KeyError, err)
			}
		}
		if err := os.Rename(l.numbered(i-1), dst); err != nil && !os.IsNotExist(err) {
			log.Warn("audit rotation: cannot shift backup", "path", dst, logging.KeyError, err)
		}
	}
}

func (l *Logger) numbered(index int) string {
	if index == 0 {
		return l.path
	}
	return fmt.Sprintf("%s.%d", l.path, index)
}

// seal fills in the entry hash and renders the JSONL line. The hash covers
// each chained field length-prefixed, so no value can fake a field
// boundary, plus the canonical JSON of the details map.
func seal(e *Entry) ([]byte, error) {
	h := sha256.New()
	for _, field := range []string{e.Timestamp, e.EventType, e.RunID, e.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if e.Details != nil {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return nil, fmt.Errorf("hash details: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(raw))
		h.Write(raw)
	}
	e.EntryHash = hex.EncodeToString(h.Sum(nil))

	line, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	return append(line, '\n'), nil
}
