package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client-originated message types.
const (
	TypeRegister     = "register"
	TypeGetPeers     = "get_peers"
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
)

// Server-originated message types.
const (
	TypeWelcome    = "welcome"
	TypePeersList  = "peers_list"
	TypePeerJoined = "peer_joined"
	TypePeerLeft   = "peer_left"
)

var (
	ErrMalformed    = errors.New("protocol: malformed envelope")
	ErrMissingType  = errors.New("protocol: missing type")
	ErrMissingField = errors.New("protocol: missing required field")
)

// PeerInfo describes a registered room member as advertised to other peers.
type PeerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
}

// Message is the wire envelope. Which fields are populated depends on Type;
// Data carries the opaque payload of relay messages and is forwarded verbatim.
type Message struct {
	Type       string          `json:"type"`
	Room       string          `json:"room,omitempty"`
	PeerID     string          `json:"peer_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	DeviceType string          `json:"device_type,omitempty"`
	IP         string          `json:"ip,omitempty"`
	Port       int             `json:"port,omitempty"`
	Peers      []PeerInfo      `json:"peers,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Parse decodes a single envelope. Unknown fields are ignored; a frame that
// does not decode as a JSON object, or that carries no type tag, is rejected.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, ErrMissingType
	}
	return m, nil
}

// Validate checks the per-type required fields for client-originated
// messages. Types the relay does not recognize validate as nil; the dispatch
// layer decides how to treat them.
func (m Message) Validate() error {
	switch m.Type {
	case TypeRegister:
		if m.Name == "" {
			return fmt.Errorf("%w: register.name", ErrMissingField)
		}
		if m.DeviceType == "" {
			return fmt.Errorf("%w: register.device_type", ErrMissingField)
		}
		if m.Port <= 0 {
			return fmt.Errorf("%w: register.port", ErrMissingField)
		}
	case TypeJoinRoom:
		if m.Room == "" {
			return fmt.Errorf("%w: join_room.room", ErrMissingField)
		}
	}
	return nil
}

// IsRelay reports whether t is one of the opaque relay types that are
// broadcast verbatim to the sender's room.
func IsRelay(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	default:
		return false
	}
}

// The Encode helpers build the server-originated frames. Marshaling these
// fixed shapes cannot realistically fail, so they return bytes directly.

func EncodeWelcome(peerID string) []byte {
	return mustMarshal(Message{Type: TypeWelcome, PeerID: peerID})
}

func EncodePeersList(peers []PeerInfo) []byte {
	return mustMarshal(Message{Type: TypePeersList, Peers: peers})
}

func EncodePeerJoined(info PeerInfo) []byte {
	return mustMarshal(Message{
		Type:       TypePeerJoined,
		PeerID:     info.ID,
		Name:       info.Name,
		DeviceType: info.DeviceType,
		IP:         info.IP,
		Port:       info.Port,
	})
}

func EncodePeerLeft(peerID string) []byte {
	return mustMarshal(Message{Type: TypePeerLeft, PeerID: peerID})
}

func mustMarshal(m Message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshal server frame: %v", err))
	}
	return data
}
