package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	gzip "github.com/klauspost/compress/gzip"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"first", "second", "third"} {
		err := s.Record(&Event{ServerID: "s1", Type: "state_change", Detail: map[string]any{"to": id}})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(2, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d events, want 2", len(got))
	}
	// Newest first
	if got[0].Detail["to"] != "third" || got[1].Detail["to"] != "second" {
		t.Errorf("Recent order = [%v %v], want [third second]", got[0].Detail["to"], got[1].Detail["to"])
	}
}

func TestRecord_FillsDefaults(t *testing.T) {
	s := openTestStore(t)

	ev := &Event{Type: "server_added", ServerID: "s1", SessionID: "sess-1"}
	if err := s.Record(ev); err != nil {
		t.Fatal(err)
	}
	if ev.ID == "" {
		t.Error("Record left ID empty")
	}
	if ev.Timestamp.IsZero() {
		t.Error("Record left Timestamp zero")
	}

	got, err := s.Recent(1, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].ID != ev.ID {
		t.Errorf("ID = %q, want %q", got[0].ID, ev.ID)
	}
	if got[0].SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", got[0].SessionID)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("stored timestamp did not round-trip")
	}
}

func TestRecent_Filters(t *testing.T) {
	s := openTestStore(t)

	s.Record(&Event{ServerID: "s1", Type: "health_check"})
	s.Record(&Event{ServerID: "s2", Type: "health_check"})
	s.Record(&Event{ServerID: "s1", Type: "tool_call"})

	byServer, err := s.Recent(0, "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(byServer) != 2 {
		t.Errorf("Recent for s1 returned %d events, want 2", len(byServer))
	}

	byType, err := s.Recent(0, "", "tool_call")
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 1 || byType[0].ServerID != "s1" {
		t.Errorf("Recent for tool_call = %v, want one s1 event", byType)
	}

	both, err := s.Recent(0, "s2", "tool_call")
	if err != nil {
		t.Fatal(err)
	}
	if len(both) != 0 {
		t.Errorf("Recent for s2 tool_call returned %d events, want 0", len(both))
	}
}

func TestCountByType(t *testing.T) {
	s := openTestStore(t)

	s.Record(&Event{Type: "health_check"})
	s.Record(&Event{Type: "health_check"})
	s.Record(&Event{Type: "tool_call"})

	counts, err := s.CountByType()
	if err != nil {
		t.Fatal(err)
	}
	if counts["health_check"] != 2 || counts["tool_call"] != 1 {
		t.Errorf("CountByType = %v, want health_check:2 tool_call:1", counts)
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)

	old := time.Now().Add(-48 * time.Hour)
	s.Record(&Event{Type: "old", Timestamp: old})
	s.Record(&Event{Type: "new"})

	n, err := s.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Prune removed %d events, want 1", n)
	}

	got, _ := s.Recent(0, "", "")
	if len(got) != 1 || got[0].Type != "new" {
		t.Errorf("after prune: %v, want only the new event", got)
	}
}

func TestExport(t *testing.T) {
	s := openTestStore(t)

	s.Record(&Event{Type: "server_added", ServerID: "s1"})
	s.Record(&Event{Type: "state_change", ServerID: "s1", Detail: map[string]any{"to": "ready"}})

	var buf bytes.Buffer
	if err := s.Export(&buf); err != nil {
		t.Fatal(err)
	}

	gz, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer gz.Close()

	var events []Event
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}

	if len(events) != 2 {
		t.Fatalf("export contained %d events, want 2", len(events))
	}
	// Oldest first
	if events[0].Type != "server_added" || events[1].Type != "state_change" {
		t.Errorf("export order = [%s %s], want [server_added state_change]", events[0].Type, events[1].Type)
	}
	if events[1].Detail["to"] != "ready" {
		t.Errorf("detail did not round-trip: %v", events[1].Detail)
	}
}
