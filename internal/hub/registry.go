package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beamdrop/signaling-relay/internal/metrics"
	"github.com/beamdrop/signaling-relay/internal/protocol"
)

// Clock feeds room timestamps and the reaper; tests inject a fake one to
// drive retention deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DiscoveryRoom is the well-known room every peer joins on registration so
// devices on the same network can find each other without exchanging codes.
const DiscoveryRoom = "discovery"

const (
	DefaultRoomRetention = 5 * time.Minute
	DefaultReapInterval  = 5 * time.Minute
)

type Options struct {
	Logger *slog.Logger
	Clock  Clock
	Metric *metrics.Metrics

	// RoomRetention is how long an empty room survives after creation before
	// the reaper may delete it. It covers the gap between a room being created
	// on first join and its members actually arriving.
	RoomRetention time.Duration
	// ReapInterval is the sweep period.
	ReapInterval time.Duration
}

// Registry is the process-wide room table. Lookups take the read side of its
// lock; creation, joins, and reaping take the write side, which is what keeps
// a sweep from deleting a room a concurrent join just resolved.
type Registry struct {
	log       *slog.Logger
	clock     Clock
	metrics   *metrics.Metrics
	retention time.Duration
	interval  time.Duration

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Metric == nil {
		opts.Metric = metrics.New()
	}
	if opts.RoomRetention <= 0 {
		opts.RoomRetention = DefaultRoomRetention
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = DefaultReapInterval
	}
	return &Registry{
		log:       opts.Logger,
		clock:     opts.Clock,
		metrics:   opts.Metric,
		retention: opts.RoomRetention,
		interval:  opts.ReapInterval,
		rooms:     make(map[string]*Room),
	}
}

// Join moves p into the room named code, creating the room when unseen.
// Joining a new room implicitly leaves the previous one (with a peer_left
// notification there). The joiner receives the current member list; existing
// members are notified of the arrival once the joiner is registered.
func (reg *Registry) Join(p *Peer, code string) {
	if code == "" {
		return
	}
	if p.room != nil && p.room.Code != code {
		reg.Leave(p)
	}

	reg.mu.Lock()
	room, ok := reg.rooms[code]
	if !ok {
		room = newRoom(code, reg.clock.Now())
		reg.rooms[code] = room
		reg.metrics.RoomsCreated.Inc()
		reg.log.Info("room created", "room", code)
	}
	room.add(p)
	reg.mu.Unlock()

	p.room = room
	reg.log.Info("peer joined room", "peer_id", p.ID, "room", code)

	if members := room.MemberList(p); len(members) > 0 {
		p.TrySend(protocol.EncodePeersList(members))
	}
	if p.Registered() {
		_, evicted := room.Broadcast(p, protocol.EncodePeerJoined(p.Info()))
		reg.countEvictions(evicted)
	}
}

// Leave removes p from its current room, if any, and notifies the remaining
// members. Safe to call for peers that were already evicted.
func (reg *Registry) Leave(p *Peer) {
	room := p.room
	if room == nil {
		return
	}
	p.room = nil
	if !room.remove(p) {
		return
	}
	reg.log.Info("peer left room", "peer_id", p.ID, "room", room.Code)

	_, evicted := room.Broadcast(nil, protocol.EncodePeerLeft(p.ID))
	reg.countEvictions(evicted)
}

// Disconnect tears down a peer on socket close: leave the room, close the
// send queue.
func (reg *Registry) Disconnect(p *Peer) {
	reg.Leave(p)
	p.Close()
}

// Peers returns the member list of p's current room, excluding p itself and
// unregistered members. ok is false when p is roomless.
func (reg *Registry) Peers(p *Peer) (members []protocol.PeerInfo, ok bool) {
	if p.room == nil {
		return nil, false
	}
	return p.room.MemberList(p), true
}

// Relay broadcasts a raw frame verbatim to the other members of p's room.
// ok is false when p is roomless, in which case the frame is dropped.
func (reg *Registry) Relay(p *Peer, frame []byte) (delivered int, ok bool) {
	room := p.room
	if room == nil {
		reg.metrics.RelayDroppedNoRoom.Inc()
		return 0, false
	}
	delivered, evicted := room.Broadcast(p, frame)
	reg.metrics.FramesRelayed.Add(float64(delivered))
	reg.countEvictions(evicted)
	return delivered, true
}

// Lookup returns the room for code, or nil.
func (reg *Registry) Lookup(code string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[code]
}

// Stats returns the room count and the total peer count across rooms.
func (reg *Registry) Stats() (rooms, peers int) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for _, room := range reg.rooms {
		peers += room.Len()
	}
	return len(reg.rooms), peers
}

// Sweep deletes rooms that are empty and older than the retention window,
// returning how many were deleted.
func (reg *Registry) Sweep(now time.Time) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reaped := 0
	for code, room := range reg.rooms {
		if room.Len() == 0 && now.Sub(room.created) > reg.retention {
			delete(reg.rooms, code)
			reaped++
			reg.log.Info("reaped idle room", "room", code)
		}
	}
	if reaped > 0 {
		reg.metrics.RoomsReaped.Add(float64(reaped))
	}
	return reaped
}

// Run sweeps on the reap interval until ctx is cancelled.
func (reg *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(reg.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.Sweep(reg.clock.Now())
		}
	}
}

func (reg *Registry) countEvictions(n int) {
	if n > 0 {
		reg.metrics.SlowConsumerEvictions.Add(float64(n))
	}
}
