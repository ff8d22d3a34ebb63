package memory

import (
	"errors"
	"sync"

	"github.com/peerwave/signaling/backend/model"
)

var (
	ErrNoRoomID = errors.New("room id is empty")
	ErrNoPeerID = errors.New("peer connection id is empty")
)

// room holds members keyed by socket id plus the order they joined in,
// so Members returns a stable sequence.
type room struct {
	members map[string]model.Member
	order   []string
}

func (r *room) remove(socketID string) (model.Member, bool) {
	m, ok := r.members[socketID]
	if !ok {
		return model.Member{}, false
	}
	delete(r.members, socketID)
	for i, id := range r.order {
		if id == socketID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return m, true
}

func (r *room) snapshot() []model.Member {
	out := make([]model.Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id])
	}
	return out
}

// Registry is the process-wide room membership store. A room entry
// exists iff it has at least one member: rooms are created on first
// join and deleted when the last member leaves, nowhere else.
type Registry struct {
	mx    *sync.Mutex
	rooms map[string]*room
}

func NewRegistry() *Registry {
	return &Registry{
		mx:    &sync.Mutex{},
		rooms: make(map[string]*room),
	}
}

// Join inserts a member under roomID, creating the room if absent.
// prior is the member count before the insert; callers use it to decide
// whether a join announcement is due. Join does not deduplicate: a
// second join with the same socket id replaces the member record but
// still counts as a distinct join for announcement purposes.
func (reg *Registry) Join(roomID, socketID, peerID string, userData map[string]any) (model.Member, int, error) {
	if roomID == "" {
		return model.Member{}, 0, ErrNoRoomID
	}
	if peerID == "" {
		return model.Member{}, 0, ErrNoPeerID
	}

	reg.mx.Lock()
	defer reg.mx.Unlock()

	rm, ok := reg.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]model.Member)}
		reg.rooms[roomID] = rm
	}
	prior := len(rm.members)

	member := model.Member{
		SocketID: socketID,
		PeerID:   peerID,
		UserData: userData,
	}
	if _, exists := rm.members[socketID]; !exists {
		rm.order = append(rm.order, socketID)
	}
	rm.members[socketID] = member
	return member, prior, nil
}

// Leave removes the member and returns it together with a snapshot of
// the remaining members. The room entry is deleted when the count
// reaches zero. ok is false if the member (or the room) was never
// present, in which case nothing is mutated.
func (reg *Registry) Leave(roomID, socketID string) (model.Member, []model.Member, bool) {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	rm, ok := reg.rooms[roomID]
	if !ok {
		return model.Member{}, nil, false
	}
	member, ok := rm.remove(socketID)
	if !ok {
		return model.Member{}, nil, false
	}
	if len(rm.members) == 0 {
		delete(reg.rooms, roomID)
		return member, nil, true
	}
	return member, rm.snapshot(), true
}

// Members returns the room's members in join order, nil for an absent room.
func (reg *Registry) Members(roomID string) []model.Member {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	rm, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.snapshot()
}

func (reg *Registry) Size(roomID string) int {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	rm, ok := reg.rooms[roomID]
	if !ok {
		return 0
	}
	return len(rm.members)
}

// Dump snapshots the whole registry for diagnostics.
func (reg *Registry) Dump() map[string][]model.Member {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	out := make(map[string][]model.Member, len(reg.rooms))
	for id, rm := range reg.rooms {
		out[id] = rm.snapshot()
	}
	return out
}
