package hub

import (
	"sync"
	"time"

	"github.com/beamdrop/signaling-relay/internal/protocol"
)

// Room is a named broadcast domain. Each room has its own lock so signaling
// traffic in one room never contends with another room's.
type Room struct {
	Code string

	created time.Time

	mu    sync.RWMutex
	peers map[string]*Peer
}

func newRoom(code string, now time.Time) *Room {
	return &Room{
		Code:    code,
		created: now,
		peers:   make(map[string]*Peer),
	}
}

func (r *Room) add(p *Peer) {
	r.mu.Lock()
	r.peers[p.ID] = p
	r.mu.Unlock()
}

// remove reports whether the peer was a member.
func (r *Room) remove(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p.ID]; !ok {
		return false
	}
	delete(r.peers, p.ID)
	return true
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Room) CreatedAt() time.Time {
	return r.created
}

// MemberList returns the registered members, excluding the given peer.
// Unregistered peers (no name yet) are invisible to others.
func (r *Room) MemberList(exclude *Peer) []protocol.PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var members []protocol.PeerInfo
	for _, p := range r.peers {
		if exclude != nil && p.ID == exclude.ID {
			continue
		}
		if info := p.Info(); info.Name != "" {
			members = append(members, info)
		}
	}
	return members
}

// Broadcast delivers frame to every member except sender (nil sender reaches
// everyone). Enqueueing never blocks: a member whose queue is full is closed
// and evicted from the room inline, without a leave notification and without
// stalling delivery to the remaining members.
func (r *Room) Broadcast(sender *Peer, frame []byte) (delivered, evicted int) {
	r.mu.RLock()
	recipients := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if sender != nil && p.ID == sender.ID {
			continue
		}
		recipients = append(recipients, p)
	}
	r.mu.RUnlock()

	var slow []*Peer
	for _, p := range recipients {
		if p.TrySend(frame) {
			delivered++
		} else {
			slow = append(slow, p)
		}
	}
	if len(slow) == 0 {
		return delivered, 0
	}

	r.mu.Lock()
	for _, p := range slow {
		if _, ok := r.peers[p.ID]; ok {
			delete(r.peers, p.ID)
			evicted++
		}
	}
	r.mu.Unlock()

	// Closing the queue outside the lock terminates each victim's write loop,
	// which tears the connection down through the normal disconnect path.
	for _, p := range slow {
		p.Close()
	}
	return delivered, evicted
}
