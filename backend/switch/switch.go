package _switch

import (
	"context"
	"sync"
	"time"

	"github.com/peerwave/signaling/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultFwdTimeout = time.Second
)

// Switch delivers signaling events to live connections. Wires are
// registered under both their room and their peer connection id: room
// membership drives broadcasts, the peer id drives unicasts addressed
// with "to". Delivery is fire-and-forget: an absent or dead destination
// drops the event, nothing is reported to the sender.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	rooms  map[string]map[string]model.Wire
	peers  map[string]model.Wire
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		rooms:  make(map[string]map[string]model.Wire),
		peers:  make(map[string]model.Wire),
	}
}

func (sw *Switch) Connect(roomID, peerID string, wire model.Wire) error {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("roomID", roomID).
			Str("peerID", peerID).
			Msg("endpoint connected")
	}()

	rm, ok := sw.rooms[roomID]
	if !ok {
		rm = make(map[string]model.Wire)
		sw.rooms[roomID] = rm
	}
	rm[peerID] = wire
	sw.peers[peerID] = wire
	return nil
}

func (sw *Switch) Disconnect(roomID, peerID string) error {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("roomID", roomID).
			Str("peerID", peerID).
			Msg("endpoint disconnected")
	}()

	rm, ok := sw.rooms[roomID]
	if !ok {
		return nil
	}
	wire, ok := rm[peerID]
	if !ok {
		return nil
	}
	// drop the flat unicast route only if it is this connection's wire;
	// a second connection subscribed under the same peer id elsewhere
	// keeps its route
	if cur, live := sw.peers[peerID]; live && cur == wire {
		delete(sw.peers, peerID)
	}
	delete(rm, peerID)
	if len(rm) == 0 {
		delete(sw.rooms, roomID)
	}
	return nil
}

// Unicast sends ev to the wire registered under the given peer
// connection id. Returns false if the destination has no live wire.
func (sw *Switch) Unicast(ctx context.Context, to string, ev model.Event) bool {
	logger := sw.logger.With().
		Str("type", ev.Type).
		Str("dst", to).Logger()

	sw.mx.RLock()
	wire, ok := sw.peers[to]
	sw.mx.RUnlock()

	if !ok {
		logger.Debug().Msg("cannot forward, dst not found")
		return false
	}
	sent, _ := send(ctx, ev, wire.TX, &logger)
	return sent
}

// Broadcast sends ev to every wire in the room except the sender's.
// Recipients are snapshotted before sending so a slow endpoint never
// blocks the switch for unrelated rooms.
func (sw *Switch) Broadcast(ctx context.Context, roomID, exceptPeerID string, ev model.Event) bool {
	logger := sw.logger.With().
		Str("type", ev.Type).
		Str("roomID", roomID).Logger()

	sw.mx.RLock()
	targets := make([]model.Wire, 0, len(sw.rooms[roomID]))
	for peerID, wire := range sw.rooms[roomID] {
		if peerID != exceptPeerID {
			targets = append(targets, wire)
		}
	}
	sw.mx.RUnlock()

	var sent bool
	for _, wire := range targets {
		evSent, canceled := send(ctx, ev, wire.TX, &logger)
		if canceled {
			break
		}
		if evSent {
			sent = true
		}
	}
	if !sent {
		logger.Debug().Msg("broadcast did not reach anyone")
	}
	return sent
}

func send(ctx context.Context, ev model.Event, tx chan<- model.Event, logger *zerolog.Logger) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(defaultFwdTimeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Msg("dead endpoint")
	case tx <- ev:
		logger.Debug().Msg("event is forwarded")
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
