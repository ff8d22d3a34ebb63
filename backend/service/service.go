package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/peerwave/signaling/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultLeaveTimeout = 2 * time.Second
)

type (
	Registry interface {
		Join(roomID, socketID, peerID string, userData map[string]any) (model.Member, int, error)
		Leave(roomID, socketID string) (model.Member, []model.Member, bool)
		Dump() map[string][]model.Member
	}

	Switch interface {
		Connect(roomID, peerID string, wire model.Wire) error
		Disconnect(roomID, peerID string) error
		Unicast(ctx context.Context, to string, ev model.Event) bool
		Broadcast(ctx context.Context, roomID, exceptPeerID string, ev model.Event) bool
	}

	// Service routes signaling events: subscribe and disconnect mutate
	// room membership and fan out presence announcements, everything
	// else is forwarded to its addressee without touching the registry.
	Service struct {
		registry Registry
		sw       Switch
		logger   zerolog.Logger
	}

	Config struct {
		Registry Registry
		Switch   Switch
		Logger   *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		registry: cfg.Registry,
		sw:       cfg.Switch,
		logger:   cfg.Logger.With().Str("component", "signaling").Logger(),
	}
}

// session is the per-connection state machine: unsubscribed until the
// first valid subscribe, then bound to exactly one room until the
// connection ends or the client re-subscribes elsewhere.
type session struct {
	socketID string
	roomID   string
	peerID   string
	wire     model.Wire
}

// HandleSession consumes inbound events from the wire until the context
// is canceled or the RX channel is closed, then runs the leave fan-out
// exactly once. Events of one session are processed strictly in order.
func (svc *Service) HandleSession(ctx context.Context, socketID string, wire model.Wire) {
	sess := &session{socketID: socketID, wire: wire}
	svc.logger.Debug().Str("socketID", socketID).Msg("session started")

	defer func() {
		// connection ctx is already done here, announce with a fresh one
		leaveCtx, cancel := context.WithTimeout(context.Background(), defaultLeaveTimeout)
		defer cancel()
		svc.disconnect(leaveCtx, sess)
		svc.logger.Debug().Str("socketID", socketID).Msg("session ended")
	}()

SessionLoop:
	for {
		select {
		case <-ctx.Done():
			break SessionLoop
		case ev, ok := <-wire.RX:
			if !ok {
				break SessionLoop
			}
			svc.dispatch(ctx, sess, ev)
		}
	}
}

func (svc *Service) dispatch(ctx context.Context, sess *session, ev model.Event) {
	switch ev.Type {
	case model.TypeSubscribe:
		svc.handleSubscribe(ctx, sess, ev)
	case model.TypeNewUserStart:
		svc.relayNewUserStart(ctx, ev)
	case model.TypeSendChat:
		svc.relayChat(ctx, ev)
	case model.TypeSDP:
		svc.relaySDP(ctx, ev)
	case model.TypeICECandidates:
		svc.relayICE(ctx, ev)
	case model.TypeScreenShareReady:
		svc.relayScreenShareReady(ctx, ev)
	case model.TypeScreenShareStart, model.TypeScreenShareStop:
		svc.relayScreenShareRoom(ctx, sess, ev)
	default:
		svc.logger.Warn().
			Str("socketID", sess.socketID).
			Str("type", ev.Type).
			Msg("unknown event type")
	}
}

func (svc *Service) handleSubscribe(ctx context.Context, sess *session, ev model.Event) {
	var p model.SubscribePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		svc.logger.Warn().Err(err).
			Str("socketID", sess.socketID).
			Msg("malformed subscribe payload")
		return
	}
	if p.Room == "" || p.SocketID == "" {
		svc.logger.Warn().
			Str("socketID", sess.socketID).
			Msg("subscribe with missing params")
		return
	}

	// one room per connection: a re-subscribe leaves the old room first,
	// with the usual departure announcement to its survivors
	if sess.roomID != "" {
		svc.disconnect(ctx, sess)
	}

	// the wire must be routable before the membership becomes visible:
	// a concurrent join that counts this member in its prior set then
	// also finds the wire, so its announcement cannot be lost
	_ = svc.sw.Connect(p.Room, p.SocketID, sess.wire)

	member, prior, err := svc.registry.Join(p.Room, sess.socketID, p.SocketID, p.UserData)
	if err != nil {
		_ = svc.sw.Disconnect(p.Room, p.SocketID)
		svc.logger.Warn().Err(err).
			Str("socketID", sess.socketID).
			Str("roomID", p.Room).
			Msg("join rejected")
		return
	}
	sess.roomID = p.Room
	sess.peerID = p.SocketID

	svc.logger.Debug().
		Str("socketID", sess.socketID).
		Str("peerID", p.SocketID).
		Str("roomID", p.Room).
		Msg("user joined room")

	// the first member joins silently, everyone after is announced to
	// those already present; the joiner itself gets nothing
	if prior == 0 {
		return
	}
	out, err := model.NewEvent(model.TypeRoom, model.RoomPayload{
		User:     member.View(),
		SocketID: member.PeerID,
	})
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to build room announcement")
		return
	}
	svc.sw.Broadcast(ctx, p.Room, member.PeerID, out)
}

// disconnect runs the leave path. Safe to call any number of times: once
// the session is unsubscribed (or was never subscribed) it is a no-op.
func (svc *Service) disconnect(ctx context.Context, sess *session) {
	if sess.roomID == "" {
		return
	}
	roomID, peerID := sess.roomID, sess.peerID
	sess.roomID, sess.peerID = "", ""
	_ = svc.sw.Disconnect(roomID, peerID)

	removed, remaining, ok := svc.registry.Leave(roomID, sess.socketID)
	if !ok {
		return
	}
	svc.logger.Debug().
		Str("socketID", sess.socketID).
		Str("peerID", removed.PeerID).
		Str("roomID", roomID).
		Msg("user left room")
	if e := svc.logger.Trace(); e.Enabled() {
		e.Str("rooms", spew.Sdump(svc.registry.Dump())).Msg("registry after leave")
	}

	if len(remaining) == 0 {
		return
	}
	views := make([]map[string]any, 0, len(remaining))
	for _, m := range remaining {
		views = append(views, m.View())
	}
	out, err := model.NewEvent(model.TypeDisconnectRoom, model.DisconnectRoomPayload{
		Room:     views,
		ClientID: removed.PeerID,
	})
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to build departure announcement")
		return
	}
	svc.sw.Broadcast(ctx, roomID, removed.PeerID, out)
}

func (svc *Service) relayNewUserStart(ctx context.Context, ev model.Event) {
	var p model.NewUserStartPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		svc.logger.Warn().Err(err).Str("type", ev.Type).Msg("malformed payload")
		return
	}
	out, err := model.NewEvent(model.TypeNewUserStart, model.NewUserStartPayload{
		Sender: p.Sender,
		User:   p.User,
	})
	if err != nil {
		svc.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to build event")
		return
	}
	svc.sw.Unicast(ctx, p.To, out)
}

func (svc *Service) relayChat(ctx context.Context, ev model.Event) {
	var p model.ChatPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		svc.logger.Warn().Err(err).Str("type", ev.Type).Msg("malformed payload")
		return
	}
	out, err := model.NewEvent(model.TypeReceiveChat, model.ChatDelivery{Data: p.Content})
	if err != nil {
		svc.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to build event")
		return
	}
	svc.sw.Unicast(ctx, p.To, out)
}

func (svc *Service) relaySDP(ctx context.Context, ev model.Event) {
	var p model.SDPPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		svc.logger.Warn().Err(err).Str("type", ev.Type).Msg("malformed payload")
		return
	}
	out, err := model.NewEvent(model.TypeSDP, model.SDPPayload{
		Description: p.Description,
		Sender:      p.Sender,
		IsScreen:    p.IsScreen,
	})
	if err != nil {
		svc.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to build event")
		return
	}
	svc.sw.Unicast(ctx, p.To, out)
}

func (svc *Service) relayICE(ctx context.Context, ev model.Event) {
	var p model.ICEPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		svc.logger.Warn().Err(err).Str("type", ev.Type).Msg("malformed payload")
		return
	}
	out, err := model.NewEvent(model.TypeICECandidates, model.ICEPayload{
		Candidate: p.Candidate,
		Sender:    p.Sender,
		IsScreen:  p.IsScreen,
	})
	if err != nil {
		svc.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to build event")
		return
	}
	svc.sw.Unicast(ctx, p.To, out)
}

func (svc *Service) relayScreenShareReady(ctx context.Context, ev model.Event) {
	var p model.ScreenSharePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		svc.logger.Warn().Err(err).Str("type", ev.Type).Msg("malformed payload")
		return
	}
	out, err := model.NewEvent(model.TypeScreenShareReady, model.ScreenSharePayload{Sender: p.Sender})
	if err != nil {
		svc.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to build event")
		return
	}
	svc.sw.Unicast(ctx, p.To, out)
}

func (svc *Service) relayScreenShareRoom(ctx context.Context, sess *session, ev model.Event) {
	var p model.ScreenSharePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		svc.logger.Warn().Err(err).Str("type", ev.Type).Msg("malformed payload")
		return
	}
	out, err := model.NewEvent(ev.Type, model.ScreenSharePayload{Sender: p.Sender})
	if err != nil {
		svc.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to build event")
		return
	}
	svc.sw.Broadcast(ctx, p.Room, sess.peerID, out)
}
