package _switch

import (
	"context"
	"testing"
	"time"

	"github.com/peerwave/signaling/backend/model"
	"github.com/rs/zerolog"
)

func newTestSwitch() *Switch {
	logger := zerolog.Nop()
	return NewSwitch(&logger)
}

// bufferedWire builds a wire whose TX can absorb sends without a reader.
func bufferedWire() model.Wire {
	return model.Wire{
		RX: make(chan model.Event, 8),
		TX: make(chan model.Event, 8),
	}
}

func drain(wire model.Wire) []model.Event {
	var out []model.Event
	for {
		select {
		case ev := <-wire.TX:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSwitch_UnicastReachesOnlyTarget(t *testing.T) {
	sw := newTestSwitch()
	wireA, wireB := bufferedWire(), bufferedWire()
	_ = sw.Connect("room-1", "pc-A", wireA)
	_ = sw.Connect("room-1", "pc-B", wireB)

	ev := model.Event{Type: model.TypeSDP}
	if !sw.Unicast(context.Background(), "pc-B", ev) {
		t.Fatalf("unicast to live peer should succeed")
	}

	if got := drain(wireB); len(got) != 1 || got[0].Type != model.TypeSDP {
		t.Fatalf("target events = %+v, want one sdp", got)
	}
	if got := drain(wireA); len(got) != 0 {
		t.Fatalf("non-target received %d events", len(got))
	}
}

func TestSwitch_UnicastUnknownDestinationIsDropped(t *testing.T) {
	sw := newTestSwitch()

	if sw.Unicast(context.Background(), "pc-ghost", model.Event{Type: model.TypeSDP}) {
		t.Fatalf("unicast to unknown destination should report not sent")
	}
}

func TestSwitch_BroadcastExcludesSenderAndOtherRooms(t *testing.T) {
	sw := newTestSwitch()
	wireA, wireB, wireC := bufferedWire(), bufferedWire(), bufferedWire()
	wireX := bufferedWire()
	_ = sw.Connect("room-1", "pc-A", wireA)
	_ = sw.Connect("room-1", "pc-B", wireB)
	_ = sw.Connect("room-1", "pc-C", wireC)
	_ = sw.Connect("room-2", "pc-X", wireX)

	ev := model.Event{Type: model.TypeScreenShareStart}
	if !sw.Broadcast(context.Background(), "room-1", "pc-A", ev) {
		t.Fatalf("broadcast should reach someone")
	}

	if got := drain(wireA); len(got) != 0 {
		t.Fatalf("sender received %d events", len(got))
	}
	for name, wire := range map[string]model.Wire{"pc-B": wireB, "pc-C": wireC} {
		if got := drain(wire); len(got) != 1 {
			t.Fatalf("%s received %d events, want 1", name, len(got))
		}
	}
	if got := drain(wireX); len(got) != 0 {
		t.Fatalf("other room received %d events", len(got))
	}
}

func TestSwitch_BroadcastEmptyRoom(t *testing.T) {
	sw := newTestSwitch()

	if sw.Broadcast(context.Background(), "room-1", "pc-A", model.Event{Type: model.TypeScreenShareStop}) {
		t.Fatalf("broadcast into empty room should report not sent")
	}
}

func TestSwitch_DisconnectRemovesWire(t *testing.T) {
	sw := newTestSwitch()
	wireA, wireB := bufferedWire(), bufferedWire()
	_ = sw.Connect("room-1", "pc-A", wireA)
	_ = sw.Connect("room-1", "pc-B", wireB)

	_ = sw.Disconnect("room-1", "pc-B")

	if sw.Unicast(context.Background(), "pc-B", model.Event{Type: model.TypeSDP}) {
		t.Fatalf("unicast to disconnected peer should be dropped")
	}
	sw.Broadcast(context.Background(), "room-1", "pc-A", model.Event{Type: model.TypeScreenShareStart})
	if got := drain(wireB); len(got) != 0 {
		t.Fatalf("disconnected wire received %d events", len(got))
	}
}

func TestSwitch_DisconnectKeepsDuplicatePeerRoute(t *testing.T) {
	sw := newTestSwitch()
	wireA, wireB := bufferedWire(), bufferedWire()
	_ = sw.Connect("room-1", "pc-X", wireA)
	_ = sw.Connect("room-2", "pc-X", wireB)

	// the first connection's departure must not sever the route of the
	// second connection subscribed under the same peer id
	_ = sw.Disconnect("room-1", "pc-X")

	if !sw.Unicast(context.Background(), "pc-X", model.Event{Type: model.TypeSDP}) {
		t.Fatalf("unicast should still reach the surviving connection")
	}
	if got := drain(wireB); len(got) != 1 {
		t.Fatalf("survivor received %d events, want 1", len(got))
	}
	if got := drain(wireA); len(got) != 0 {
		t.Fatalf("departed wire received %d events", len(got))
	}

	_ = sw.Disconnect("room-2", "pc-X")
	if sw.Unicast(context.Background(), "pc-X", model.Event{Type: model.TypeSDP}) {
		t.Fatalf("unicast should be dropped once both connections left")
	}
}

func TestSwitch_DeadEndpointDoesNotBlockOthers(t *testing.T) {
	sw := newTestSwitch()
	dead := model.Wire{RX: make(chan model.Event), TX: make(chan model.Event)} // nobody reads
	wireB := bufferedWire()
	_ = sw.Connect("room-1", "pc-dead", dead)
	_ = sw.Connect("room-1", "pc-B", wireB)

	start := time.Now()
	sw.Broadcast(context.Background(), "room-1", "pc-A", model.Event{Type: model.TypeScreenShareStart})
	if elapsed := time.Since(start); elapsed > 2*defaultFwdTimeout {
		t.Fatalf("broadcast took %v, dead endpoint should be dropped after %v", elapsed, defaultFwdTimeout)
	}

	if got := drain(wireB); len(got) != 1 {
		t.Fatalf("live wire received %d events, want 1", len(got))
	}
}

func TestSwitch_SendHonorsContextCancellation(t *testing.T) {
	sw := newTestSwitch()
	dead := model.Wire{RX: make(chan model.Event), TX: make(chan model.Event)}
	_ = sw.Connect("room-1", "pc-dead", dead)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	sw.Unicast(ctx, "pc-dead", model.Event{Type: model.TypeSDP})
	if elapsed := time.Since(start); elapsed > defaultFwdTimeout/2 {
		t.Fatalf("canceled send took %v", elapsed)
	}
}
