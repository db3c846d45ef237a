package hub

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/beamdrop/signaling-relay/internal/protocol"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(clk *testClock) *Registry {
	return NewRegistry(Options{
		Clock:         clk,
		RoomRetention: time.Minute,
		ReapInterval:  time.Second,
	})
}

func registeredPeer(id, name string) *Peer {
	p := NewPeer(id, "10.0.0.1", 8)
	p.SetIdentity(name, "desktop", 9000)
	return p
}

func TestRegistry_ConcurrentFirstJoinsCreateOneRoom(t *testing.T) {
	reg := newTestRegistry(&testClock{})

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Join(NewPeer("peer-"+strconv.Itoa(i), "", 64), "room42")
		}(i)
	}
	wg.Wait()

	rooms, peers := reg.Stats()
	if rooms != 1 {
		t.Fatalf("rooms=%d, want 1", rooms)
	}
	if peers != n {
		t.Fatalf("peers=%d, want %d", peers, n)
	}
}

func TestRegistry_JoinNotifiesExistingMembers(t *testing.T) {
	reg := newTestRegistry(&testClock{})

	a := registeredPeer("a", "laptop")
	reg.Join(a, DiscoveryRoom)
	drainFrames(t, a)

	b := registeredPeer("b", "phone")
	reg.Join(b, DiscoveryRoom)

	// b gets the member list containing a.
	bGot := drainFrames(t, b)
	if len(bGot) != 1 || bGot[0].Type != protocol.TypePeersList {
		t.Fatalf("joiner frames=%+v, want one peers_list", bGot)
	}
	if len(bGot[0].Peers) != 1 || bGot[0].Peers[0].ID != "a" {
		t.Fatalf("peers_list=%+v, want just a", bGot[0].Peers)
	}

	// a gets peer_joined for b.
	aGot := drainFrames(t, a)
	if len(aGot) != 1 || aGot[0].Type != protocol.TypePeerJoined || aGot[0].PeerID != "b" {
		t.Fatalf("existing member frames=%+v, want peer_joined for b", aGot)
	}
	if aGot[0].Name != "phone" || aGot[0].Port != 9000 {
		t.Fatalf("peer_joined attributes=%+v", aGot[0])
	}
}

func TestRegistry_UnregisteredJoinerIsInvisible(t *testing.T) {
	reg := newTestRegistry(&testClock{})

	a := registeredPeer("a", "laptop")
	reg.Join(a, "room42")
	drainFrames(t, a)

	ghost := NewPeer("g", "", 8)
	reg.Join(ghost, "room42")

	if got := drainFrames(t, a); len(got) != 0 {
		t.Fatalf("unregistered join produced notifications: %+v", got)
	}
	// The ghost still sees the registered member.
	got := drainFrames(t, ghost)
	if len(got) != 1 || got[0].Type != protocol.TypePeersList {
		t.Fatalf("ghost frames=%+v", got)
	}
}

func TestRegistry_JoinMovesBetweenRooms(t *testing.T) {
	reg := newTestRegistry(&testClock{})

	a := registeredPeer("a", "laptop")
	b := registeredPeer("b", "phone")
	reg.Join(a, DiscoveryRoom)
	reg.Join(b, DiscoveryRoom)
	drainFrames(t, a)
	drainFrames(t, b)

	reg.Join(b, "room42")

	// a is told b left discovery.
	aGot := drainFrames(t, a)
	if len(aGot) != 1 || aGot[0].Type != protocol.TypePeerLeft || aGot[0].PeerID != "b" {
		t.Fatalf("frames=%+v, want peer_left for b", aGot)
	}

	if room := reg.Lookup(DiscoveryRoom); room.Len() != 1 {
		t.Fatalf("discovery len=%d, want 1", room.Len())
	}
	if room := reg.Lookup("room42"); room == nil || room.Len() != 1 {
		t.Fatalf("room42 missing or wrong size")
	}
}

func TestRegistry_LeaveThenDisconnectIsQuiet(t *testing.T) {
	reg := newTestRegistry(&testClock{})

	a := registeredPeer("a", "laptop")
	b := registeredPeer("b", "phone")
	reg.Join(a, DiscoveryRoom)
	reg.Join(b, DiscoveryRoom)
	drainFrames(t, a)
	drainFrames(t, b)

	reg.Leave(a)
	bGot := drainFrames(t, b)
	if len(bGot) != 1 || bGot[0].Type != protocol.TypePeerLeft || bGot[0].PeerID != "a" {
		t.Fatalf("frames=%+v, want peer_left for a", bGot)
	}

	// Disconnect after leave must not notify again.
	reg.Disconnect(a)
	if got := drainFrames(t, b); len(got) != 0 {
		t.Fatalf("duplicate departure notification: %+v", got)
	}
}

func TestRegistry_RelayVerbatimAndRoomScoped(t *testing.T) {
	reg := newTestRegistry(&testClock{})

	a := registeredPeer("a", "laptop")
	b := registeredPeer("b", "phone")
	outsider := registeredPeer("c", "tablet")
	reg.Join(a, "room42")
	reg.Join(b, "room42")
	reg.Join(outsider, "other")
	drainFrames(t, a)
	drainFrames(t, b)
	drainFrames(t, outsider)

	raw := []byte(`{"type":"ice_candidate","data":{"candidate":"udp 10.0.0.2 9000","extra":1}}`)
	delivered, ok := reg.Relay(a, raw)
	if !ok || delivered != 1 {
		t.Fatalf("delivered=%d ok=%v, want 1, true", delivered, ok)
	}

	select {
	case frame := <-b.Outbound():
		if string(frame) != string(raw) {
			t.Fatalf("relay altered the frame: %s", frame)
		}
	default:
		t.Fatalf("recipient got nothing")
	}
	if got := drainFrames(t, outsider); len(got) != 0 {
		t.Fatalf("relay leaked outside the room: %+v", got)
	}
}

func TestRegistry_RelayWithoutRoomIsDropped(t *testing.T) {
	reg := newTestRegistry(&testClock{})
	p := registeredPeer("a", "laptop")

	if _, ok := reg.Relay(p, []byte(`{"type":"offer"}`)); ok {
		t.Fatalf("roomless relay reported ok")
	}
}

func TestRegistry_SweepHonorsRetention(t *testing.T) {
	clk := &testClock{now: time.Unix(1000, 0)}
	reg := newTestRegistry(clk) // retention 1m

	p := registeredPeer("a", "laptop")
	reg.Join(p, "room42")
	reg.Leave(p)

	// Empty but inside the retention window: kept.
	clk.Advance(30 * time.Second)
	if n := reg.Sweep(clk.Now()); n != 0 {
		t.Fatalf("swept %d rooms inside retention window", n)
	}

	// Past the window: reaped.
	clk.Advance(31 * time.Second)
	if n := reg.Sweep(clk.Now()); n != 1 {
		t.Fatalf("swept %d rooms, want 1", n)
	}
	if reg.Lookup("room42") != nil {
		t.Fatalf("room survived the sweep")
	}
}

func TestRegistry_SweepKeepsOccupiedRooms(t *testing.T) {
	clk := &testClock{now: time.Unix(1000, 0)}
	reg := newTestRegistry(clk)

	reg.Join(registeredPeer("a", "laptop"), "room42")
	clk.Advance(time.Hour)
	if n := reg.Sweep(clk.Now()); n != 0 {
		t.Fatalf("swept an occupied room")
	}
}
