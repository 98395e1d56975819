package history

import "testing"

func drain(ch <-chan string) []string {
	var out []string
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, line)
		default:
			return out
		}
	}
}

func TestLogBrokerPublishAndSubscribe(t *testing.T) {
	b := NewLogBroker()
	ch, unsubscribe := b.Subscribe("vm-1")
	defer unsubscribe()

	b.Publish("vm-1", "booting")
	select {
	case line := <-ch:
		if line != "booting" {
			t.Fatalf("line = %q, want booting", line)
		}
	default:
		t.Fatal("expected a buffered line")
	}
}

func TestLogBrokerReplaysTailToMidStreamSubscriber(t *testing.T) {
	b := NewLogBroker()
	b.Publish("vm-1", "kernel up")
	b.Publish("vm-1", "mounting root")

	ch, unsubscribe := b.Subscribe("vm-1")
	defer unsubscribe()

	b.Publish("vm-1", "init started")

	got := drain(ch)
	want := []string{"kernel up", "mounting root", "init started"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLogBrokerCloseClosesSubscribers(t *testing.T) {
	b := NewLogBroker()
	ch, _ := b.Subscribe("vm-1")
	b.Close("vm-1")

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
}

func TestLogBrokerLateSubscribeAfterCloseReplaysTailThenCloses(t *testing.T) {
	b := NewLogBroker()
	b.Publish("vm-1", "booting")
	b.Publish("vm-1", "boot failed")
	b.Close("vm-1")

	ch, _ := b.Subscribe("vm-1")
	if line, ok := <-ch; !ok || line != "booting" {
		t.Fatalf("first replayed line = %q (%v), want booting", line, ok)
	}
	if line, ok := <-ch; !ok || line != "boot failed" {
		t.Fatalf("second replayed line = %q (%v), want boot failed", line, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after replay")
	}
}

func TestLogBrokerPublishAfterCloseIsDropped(t *testing.T) {
	b := NewLogBroker()
	b.Publish("vm-1", "booting")
	b.Close("vm-1")
	b.Publish("vm-1", "after the end")

	ch, _ := b.Subscribe("vm-1")
	got := drain(ch)
	if len(got) != 1 || got[0] != "booting" {
		t.Fatalf("got %v, want only the pre-close line", got)
	}
}

func TestLogBrokerNoticesDroppedTailLines(t *testing.T) {
	b := NewLogBroker()
	for i := 0; i < tailLines+3; i++ {
		b.Publish("vm-1", "line")
	}

	ch, unsubscribe := b.Subscribe("vm-1")
	defer unsubscribe()

	got := drain(ch)
	if len(got) != tailLines+1 {
		t.Fatalf("expected %d lines (notice + tail), got %d", tailLines+1, len(got))
	}
	if got[0] != "[3 earlier console lines dropped]" {
		t.Fatalf("first line = %q, want truncation notice", got[0])
	}
}
