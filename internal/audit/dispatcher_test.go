package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close nil dispatcher: %v", err)
	}
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher must report zero counters")
	}
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success", Success: true})
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected 50 delivered events, got %d", got)
	}
	if d.Delivered() != 50 {
		t.Fatalf("expected Delivered()=50, got %d", d.Delivered())
	}

	d.Emit(context.Background(), Event{EventType: "after_close"})
	if sink.count.Load() != 50 {
		t.Fatal("events after close must be ignored")
	}
}

func TestDropIfFullCountsOverflow(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is held by the sink, one sits in the buffer, the rest overflow.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
		time.Sleep(time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a blocked sink")
	}

	close(sink.gate)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBlockingEmitHonoursContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	d.Emit(context.Background(), Event{EventType: "held"})
	time.Sleep(5 * time.Millisecond)
	d.Emit(context.Background(), Event{EventType: "buffered"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{EventType: "gives_up"})
	if d.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", d.Dropped())
	}

	close(sink.gate)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "register_success", UserID: "u1", Success: true})

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["event_type"] != "register_success" || decoded["user_id"] != "u1" {
		t.Fatalf("unexpected payload %v", decoded)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{EventType: "login_failure", IP: "10.0.0.1", Error: "invalid_credentials", Metadata: map[string]string{"carrier": "password"}})
	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"event_type":"login_failure"`, `"ip":"10.0.0.1"`, `"meta.carrier":"password"`, `"component":"audit"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}
