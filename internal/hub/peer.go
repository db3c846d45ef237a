package hub

import (
	"sync"

	"github.com/beamdrop/signaling-relay/internal/protocol"
)

// DefaultSendQueueSize bounds a peer's outbound frame queue. A recipient that
// falls this many frames behind is treated as unresponsive and evicted during
// the next broadcast that reaches it.
const DefaultSendQueueSize = 256

// Peer is the server-side representation of one WebSocket connection.
//
// The ID is assigned at connect time and never reused. Display attributes
// stay empty until the client registers; peers with an empty name are
// invisible in peer lists and join notifications.
type Peer struct {
	ID string
	// IP is the address the connection arrived from (X-Forwarded-For when the
	// relay sits behind a proxy). Fixed at connect time.
	IP string

	mu         sync.Mutex
	name       string
	deviceType string
	port       int
	closed     bool
	send       chan []byte

	// room is the peer's current membership, nil when roomless. It is owned
	// by the connection's read loop; registry methods may only touch it from
	// that goroutine.
	room *Room
}

func NewPeer(id, ip string, queueSize int) *Peer {
	if queueSize <= 0 {
		queueSize = DefaultSendQueueSize
	}
	return &Peer{
		ID:   id,
		IP:   ip,
		send: make(chan []byte, queueSize),
	}
}

// SetIdentity records the attributes from a register message.
func (p *Peer) SetIdentity(name, deviceType string, port int) {
	p.mu.Lock()
	p.name = name
	p.deviceType = deviceType
	p.port = port
	p.mu.Unlock()
}

// Registered reports whether the peer has completed registration.
func (p *Peer) Registered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name != ""
}

// Info returns the peer's advertised attributes.
func (p *Peer) Info() protocol.PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return protocol.PeerInfo{
		ID:         p.ID,
		Name:       p.name,
		DeviceType: p.deviceType,
		IP:         p.IP,
		Port:       p.port,
	}
}

// TrySend enqueues a frame without blocking. It returns false when the queue
// is full or the peer is closed; the caller decides whether that means
// dropping the frame or evicting the peer.
func (p *Peer) TrySend(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

// Close closes the outbound queue, which terminates the connection's write
// loop. Safe to call multiple times and concurrently with TrySend.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
}

// Outbound is the write loop's end of the send queue. The channel is closed
// when the peer is closed.
func (p *Peer) Outbound() <-chan []byte {
	return p.send
}
