package config

import (
	"strings"
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	raw := `[
		{"urls": "stun:stun.l.google.com:19302"},
		{"urls": ["turn:turn.example.com:3478", "turns:turn.example.com:5349"], "username": "u", "credential": "p"}
	]`
	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("servers[0].URLs = %v", servers[0].URLs)
	}
	if len(servers[1].URLs) != 2 || servers[1].Username != "u" {
		t.Errorf("servers[1] = %+v", servers[1])
	}
	if cred, ok := servers[1].Credential.(string); !ok || cred != "p" {
		t.Errorf("servers[1].Credential = %v", servers[1].Credential)
	}
}

func TestParseICEServersJSONRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", "nope", "invalid"},
		{"missing urls", `[{"username": "u"}]`, "missing urls"},
		{"bad scheme", `[{"urls": "http://example.com"}]`, "unsupported url scheme"},
		{"turn without creds", `[{"urls": "turn:turn.example.com:3478"}]`, "require username"},
		{"turn without credential", `[{"urls": "turn:t.example.com", "username": "u"}]`, "require credential"},
		{"urls wrong type", `[{"urls": 7}]`, "string or an array"},
		{"bare scheme word", `[{"urls": "stun"}]`, "unsupported url scheme"},
		{"all urls blank", `[{"urls": ["", "  "]}]`, "missing urls"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseICEServersJSON(tc.raw)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseICEServersJSONTrimsURLs(t *testing.T) {
	servers, err := ParseICEServersJSON(`[{"urls": [" stun:a.example.com:3478 ", "", "stuns:b.example.com"]}]`)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(servers))
	}
	want := []string{"stun:a.example.com:3478", "stuns:b.example.com"}
	if len(servers[0].URLs) != 2 || servers[0].URLs[0] != want[0] || servers[0].URLs[1] != want[1] {
		t.Errorf("URLs = %v, want %v", servers[0].URLs, want)
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	servers, err := ParseICEServersFromConvenienceEnv(
		"stun:a.example.com:3478, stun:b.example.com:3478",
		"turn:t.example.com:3478",
		"user",
		"secret",
	)
	if err != nil {
		t.Fatalf("ParseICEServersFromConvenienceEnv: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if len(servers[0].URLs) != 2 {
		t.Errorf("stun URLs = %v", servers[0].URLs)
	}
	if servers[1].Username != "user" {
		t.Errorf("turn username = %q", servers[1].Username)
	}
}

func TestParseICEServersFromConvenienceEnvRequiresTurnCreds(t *testing.T) {
	if _, err := ParseICEServersFromConvenienceEnv("", "turn:t.example.com:3478", "", ""); err == nil {
		t.Fatal("expected error when turn creds missing")
	}
	if _, err := ParseICEServersFromConvenienceEnv("", "turn:t.example.com:3478", "user", ""); err == nil {
		t.Fatal("expected error when credential missing")
	}
}

func TestParseICEServersFromConvenienceEnvEmpty(t *testing.T) {
	servers, err := ParseICEServersFromConvenienceEnv("", "", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(servers) != 0 {
		t.Errorf("got %d servers, want 0", len(servers))
	}
}
