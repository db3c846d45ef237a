package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Clients fetch the STUN/TURN list from /webrtc/ice before dialing their
// peer connection. The list comes either from one JSON document or from the
// flat convenience variables (comma-separated URL lists plus a static TURN
// username/credential pair); the JSON document wins when both are set.
const (
	envICEServersJSON = "BEAMDROP_ICE_SERVERS_JSON"

	envStunURLs       = "BEAMDROP_STUN_URLS"
	envTurnURLs       = "BEAMDROP_TURN_URLS"
	envTurnUsername   = "BEAMDROP_TURN_USERNAME"
	envTurnCredential = "BEAMDROP_TURN_CREDENTIAL"
)

func parseICEServers(jsonDoc, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if doc := strings.TrimSpace(jsonDoc); doc != "" {
		servers, err := ParseICEServersJSON(doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential)
}

// iceServerSpec is one entry of the JSON document. Its "urls" field accepts
// a single string or an array of strings, matching the RTCIceServer shape
// browsers take.
type iceServerSpec struct {
	URLs       json.RawMessage `json:"urls"`
	Username   string          `json:"username"`
	Credential string          `json:"credential"`
}

func (s iceServerSpec) urlList() ([]string, error) {
	if len(s.URLs) == 0 {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(s.URLs, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(s.URLs, &many); err != nil {
		return nil, errors.New("urls must be a string or an array of strings")
	}
	return many, nil
}

// ParseICEServersJSON decodes an RTCIceServer-style JSON array into the list
// handed out at /webrtc/ice.
func ParseICEServersJSON(doc string) ([]webrtc.ICEServer, error) {
	var specs []iceServerSpec
	if err := json.Unmarshal([]byte(doc), &specs); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(specs))
	for i, spec := range specs {
		urls, err := spec.urlList()
		if err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		server, err := newICEServer(urls, spec.Username, spec.Credential)
		if err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// ParseICEServersFromConvenienceEnv assembles the handout from the flat URL
// lists: at most one STUN entry without credentials and one TURN entry
// carrying the static username/credential pair. All-empty input yields an
// empty list.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if stun := commaList(stunURLs); len(stun) > 0 {
		server, err := newICEServer(stun, "", "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if turn := commaList(turnURLs); len(turn) > 0 {
		if strings.TrimSpace(turnUsername) == "" || strings.TrimSpace(turnCredential) == "" {
			return nil, fmt.Errorf("%s and %s must both be set when %s is set",
				envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server, err := newICEServer(turn, turnUsername, turnCredential)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

// newICEServer trims and validates one handout entry. Blank URL entries are
// dropped; any turn/turns URL makes the username and credential mandatory.
func newICEServer(urls []string, username, credential string) (webrtc.ICEServer, error) {
	cleaned := make([]string, 0, len(urls))
	needsCreds := false
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		scheme, rest, _ := strings.Cut(url, ":")
		switch {
		case rest == "":
			return webrtc.ICEServer{}, fmt.Errorf("unsupported url scheme: %q", url)
		case scheme == "stun", scheme == "stuns":
		case scheme == "turn", scheme == "turns":
			needsCreds = true
		default:
			return webrtc.ICEServer{}, fmt.Errorf("unsupported url scheme: %q", url)
		}
		cleaned = append(cleaned, url)
	}
	if len(cleaned) == 0 {
		return webrtc.ICEServer{}, errors.New("missing urls")
	}

	server := webrtc.ICEServer{
		URLs:     cleaned,
		Username: strings.TrimSpace(username),
	}
	if cred := strings.TrimSpace(credential); cred != "" {
		server.Credential = cred
	}
	if needsCreds {
		if server.Username == "" {
			return webrtc.ICEServer{}, errors.New("turn urls require username")
		}
		if server.Credential == nil {
			return webrtc.ICEServer{}, errors.New("turn urls require credential")
		}
	}
	return server, nil
}

func commaList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
