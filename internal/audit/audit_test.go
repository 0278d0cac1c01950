package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	seen    []string
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.mu.Lock()
	s.seen = append(s.seen, e.EventType)
	s.mu.Unlock()
}

func TestDisabledDispatcherIsNilAndSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher counters must be zero")
	}
}

func TestDispatcherPreservesOrderAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for _, name := range []string{"a", "b", "c"} {
		d.Emit(context.Background(), Event{EventType: name})
	}
	d.Close()

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, (<-sink.Events()).EventType)
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("unexpected order %v", got)
	}
	if d.Delivered() != 3 {
		t.Fatalf("expected 3 delivered, got %d", d.Delivered())
	}

	d.Emit(context.Background(), Event{EventType: "after-close"})
	if d.Delivered() != 3 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestDispatcherDropIfFullCountsDrops(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and buffer of 1")
	}
	close(sink.release)
	d.Close()
}

func TestCloseContextReturnsOnDeadline(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	d.Emit(context.Background(), Event{EventType: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.CloseContext(ctx); err == nil {
		t.Fatal("expected deadline error while sink is blocked")
	}
	close(sink.release)
	d.Close()
}

func TestJSONWriterSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{EventType: "sign_out", UserID: "u1", Success: true})
	s.Emit(context.Background(), Event{EventType: "role_resolved", UserID: "u1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.EventType != "sign_out" || first.UserID != "u1" || !first.Success {
		t.Fatalf("unexpected event %+v", first)
	}
}

func TestZapSinkLogsEventType(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewZapSink(zap.New(core))
	s.Emit(context.Background(), Event{EventType: "session_initialized", Outcome: "degraded", Error: "timeout"})

	entries := logs.FilterMessage("session_initialized").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["outcome"] != "degraded" || ctx["error"] != "timeout" {
		t.Fatalf("unexpected fields %v", ctx)
	}
}
