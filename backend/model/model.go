package model

import "encoding/json"

// Signaling event types. Names match the wire protocol spoken by the
// browser client, including the two space-separated ones.
const (
	TypeSubscribe        = "subscribe"
	TypeRoom             = "room"
	TypeNewUserStart     = "newUserStart"
	TypeSendChat         = "sendChat"
	TypeReceiveChat      = "receiveChat"
	TypeScreenShareStart = "screenShareStart"
	TypeScreenShareReady = "screenShareReady"
	TypeScreenShareStop  = "screenShareStop"
	TypeSDP              = "sdp"
	TypeICECandidates    = "ice candidates"
	TypeDisconnectRoom   = "disconnect room"
)

// Event is the envelope for every message exchanged over the signaling
// channel. Payload stays raw at this level; handlers decode it into the
// typed payload structs below.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEvent(eventType string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: b}, nil
}

// Member is one connected client inside a room. SocketID is the
// transport-level connection identity assigned by the websocket server;
// PeerID is the application-chosen peer connection id used for
// WebRTC-level addressing.
type Member struct {
	SocketID string
	PeerID   string
	UserData map[string]any
}

// View is the member object shown to other peers: the user's metadata
// with clientId merged in.
func (m Member) View() map[string]any {
	v := make(map[string]any, len(m.UserData)+1)
	for k, val := range m.UserData {
		v[k] = val
	}
	v["clientId"] = m.PeerID
	return v
}

// SubscribePayload joins a room. SocketID carries the client's peer
// connection id, not the transport id.
type SubscribePayload struct {
	Room     string         `json:"room"`
	SocketID string         `json:"socketId"`
	UserData map[string]any `json:"userData"`
}

// RoomPayload announces a late joiner to members already in the room.
type RoomPayload struct {
	User     map[string]any `json:"user"`
	SocketID string         `json:"socketId"`
}

type NewUserStartPayload struct {
	To     string          `json:"to,omitempty"`
	Sender string          `json:"sender"`
	User   json.RawMessage `json:"user,omitempty"`
}

type ChatPayload struct {
	To      string          `json:"to"`
	Content json.RawMessage `json:"content"`
}

type ChatDelivery struct {
	Data json.RawMessage `json:"data"`
}

// ScreenSharePayload covers screenShareStart/Stop (room scoped) and
// screenShareReady (peer scoped).
type ScreenSharePayload struct {
	Room   string `json:"room,omitempty"`
	To     string `json:"to,omitempty"`
	Sender string `json:"sender"`
}

type SDPPayload struct {
	To          string          `json:"to,omitempty"`
	Description json.RawMessage `json:"description"`
	Sender      string          `json:"sender"`
	IsScreen    bool            `json:"isScreen"`
}

type ICEPayload struct {
	To        string          `json:"to,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
	Sender    string          `json:"sender"`
	IsScreen  bool            `json:"isScreen"`
}

// DisconnectRoomPayload tells survivors that a peer left. Room holds the
// views of everyone still present.
type DisconnectRoomPayload struct {
	Room     []map[string]any `json:"room"`
	ClientID string           `json:"clientId"`
}

type Wire struct {
	RX chan Event
	TX chan Event
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Event),
		TX: make(chan Event),
	}
}
