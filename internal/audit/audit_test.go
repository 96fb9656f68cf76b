package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNilJournalIsSafe(t *testing.T) {
	var l *Logger
	l.Log(EventRunStart, "run-1", map[string]any{"bundle": "/tmp/x"})
	if err := l.Close(); err != nil {
		t.Fatalf("nil Close() returned error: %v", err)
	}
	if got := l.DroppedCount(); got != -1 {
		t.Fatalf("nil DroppedCount() = %d, want -1", got)
	}
	if got := l.Path(); got != "" {
		t.Fatalf("nil Path() = %q, want empty", got)
	}
}

func TestLogWritesEntry(t *testing.T) {
	l := openJournal(t)
	l.Log(EventRunStart, "run-1", map[string]any{"version": "1.3.7"})
	l.Close()

	entries := readJournal(t, l.path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.EventType != EventRunStart {
		t.Fatalf("eventType = %q, want %q", e.EventType, EventRunStart)
	}
	if e.RunID != "run-1" {
		t.Fatalf("runId = %q, want run-1", e.RunID)
	}
	if e.Details["version"] != "1.3.7" {
		t.Fatalf("details = %v, want version 1.3.7", e.Details)
	}
	if e.PrevHash != "genesis" {
		t.Fatalf("prevHash = %q, want genesis", e.PrevHash)
	}
	if e.EntryHash == "" {
		t.Fatal("entryHash is empty")
	}
}

func TestChainLinks(t *testing.T) {
	l := openJournal(t)
	l.Log(EventRunStart, "run-1", nil)
	l.Log(EventBackupCreated, "run-1", map[string]any{"backup": "/tmp/b"})
	l.Log(EventResourcePatched, "run-1", map[string]any{"resource": "out/main.js"})
	l.Log(EventRunEnd, "run-1", map[string]any{"state": "installed"})
	l.Close()

	entries := readJournal(t, l.path)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[0].PrevHash != "genesis" {
		t.Fatalf("entry[0].PrevHash = %q, want genesis", entries[0].PrevHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].EntryHash {
			t.Fatalf("entry[%d].PrevHash = %q, want entry[%d].EntryHash = %q",
				i, entries[i].PrevHash, i-1, entries[i-1].EntryHash)
		}
	}
}

func TestRotationCarriesChain(t *testing.T) {
	l := openJournal(t)
	l.limit = 200

	for i := 0; i < 10; i++ {
		l.Log(EventResourcePatched, "run-1", map[string]any{"i": i})
	}
	l.Close()

	entries := readJournal(t, l.path)
	if len(entries) == 0 {
		t.Fatal("no entries in current file after rotation")
	}
	if entries[0].EventType != EventLogRotated {
		t.Fatalf("first entry after rotation = %q, want %q",
			entries[0].EventType, EventLogRotated)
	}
	if prev, _ := entries[0].Details["previousFile"].(string); prev == "" {
		t.Fatal("sentinel has no previousFile in details")
	}

	// The sentinel links back into the rotated-out file.
	rotated := readJournal(t, l.path+".1")
	if len(rotated) == 0 {
		t.Fatal("no entries in rotated file")
	}
	want := rotated[len(rotated)-1].EntryHash
	if entries[0].PrevHash != want {
		t.Fatalf("sentinel prevHash = %q, want last rotated entry hash %q",
			entries[0].PrevHash, want)
	}
}

func TestCriticalEvents(t *testing.T) {
	for _, e := range []string{EventRunStart, EventRunEnd, EventBundleInstalled, EventRollback, EventBackupRestored} {
		if !criticalEvents[e] {
			t.Errorf("event %q should be critical", e)
		}
	}
	for _, e := range []string{EventResourcePatched, EventBundleSigned, EventStorageRewritten} {
		if criticalEvents[e] {
			t.Errorf("event %q should NOT be critical", e)
		}
	}
}

func TestWriteFailureCountsDrop(t *testing.T) {
	l := openJournal(t)
	breakJournal(t, l)

	l.Log(EventResourcePatched, "run-1", nil)

	if got := l.DroppedCount(); got != 1 {
		t.Fatalf("DroppedCount() = %d, want 1", got)
	}
	l.file.Close()
}

func TestWriteFailureKeepsTip(t *testing.T) {
	l := openJournal(t)
	l.Log(EventRunStart, "run-1", nil)
	before := l.tip

	breakJournal(t, l)
	l.Log(EventResourcePatched, "run-1", nil)
	l.file.Close()

	if l.tip != before {
		t.Fatalf("chain advanced on failed write: %q -> %q", before, l.tip)
	}
}

func TestSealSeparatesFields(t *testing.T) {
	// Without length prefixes these two would hash the same byte stream.
	a := Entry{Timestamp: "T", EventType: "ab", RunID: "c", PrevHash: "genesis"}
	b := Entry{Timestamp: "T", EventType: "a", RunID: "bc", PrevHash: "genesis"}

	if _, err := seal(&a); err != nil {
		t.Fatalf("seal a: %v", err)
	}
	if _, err := seal(&b); err != nil {
		t.Fatalf("seal b: %v", err)
	}
	if a.EntryHash == b.EntryHash {
		t.Fatal("entries with shifted field boundaries hash identically")
	}
}

func openJournal(t *testing.T) *Logger {
	t.Helper()
	l := &Logger{
		path:  filepath.Join(t.TempDir(), "reseed-audit.jsonl"),
		limit: 50 * 1024 * 1024,
		keep:  3,
		tip:   "genesis",
	}
	if err := l.open(); err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return l
}

// breakJournal swaps the journal's handle for a read-only one so the next
// write fails.
func breakJournal(t *testing.T, l *Logger) {
	t.Helper()
	l.file.Close()
	f, err := os.Open(l.path)
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	l.file = f
}

func readJournal(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan journal: %v", err)
	}
	return entries
}
