// Package config loads the relay's configuration from environment variables
// and flags, validates it, and builds the process logger.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/beamdrop/signaling-relay/internal/origin"
)

const (
	envVarListenAddr      = "BEAMDROP_SIGNALING_LISTEN_ADDR"
	envVarMode            = "BEAMDROP_SIGNALING_MODE"
	envVarLogFormat       = "BEAMDROP_SIGNALING_LOG_FORMAT"
	envVarLogLevel        = "BEAMDROP_SIGNALING_LOG_LEVEL"
	envVarShutdownTimeout = "BEAMDROP_SIGNALING_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// WebSocket liveness + hardening knobs.
	envVarWSIdleTimeout     = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval    = "WS_PING_INTERVAL"
	envVarWSWriteTimeout    = "WS_WRITE_TIMEOUT"
	envVarSendQueueSize     = "SEND_QUEUE_SIZE"
	envVarMaxMessageBytes   = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxMessagesPerSec = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// Idle-room reaper knobs.
	envVarRoomRetention = "ROOM_RETENTION"
	envVarReapInterval  = "ROOM_REAP_INTERVAL"

	// Ephemeral TURN credential minting (coturn TURN REST).
	envVarTURNRESTSharedSecret   = "BEAMDROP_TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTL            = "BEAMDROP_TURN_REST_TTL"
	envVarTURNRESTUsernamePrefix = "BEAMDROP_TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultListenAddr      = "127.0.0.1:8081"
	DefaultShutdownTimeout = 15 * time.Second

	// DefaultWSPingInterval must stay shorter than DefaultWSIdleTimeout so a
	// healthy peer's pong always refreshes the read deadline in time.
	DefaultWSIdleTimeout  = 60 * time.Second
	DefaultWSPingInterval = 54 * time.Second
	DefaultWSWriteTimeout = 10 * time.Second

	DefaultSendQueueSize               = 256
	DefaultMaxMessageBytes       int64 = 64 * 1024
	DefaultMaxMessagesPerSecond        = 50

	DefaultRoomRetention = 5 * time.Minute
	DefaultReapInterval  = 5 * time.Minute

	DefaultTURNRESTTTL            = time.Hour
	DefaultTURNRESTUsernamePrefix = "beamdrop"

	DefaultMode Mode = ModeDev
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins gates both the WebSocket upgrade and CORS on the plain
	// HTTP endpoints. Empty means same-host only; "*" allows everything.
	AllowedOrigins []string

	WSIdleTimeout  time.Duration
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	SendQueueSize        int
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	RoomRetention time.Duration
	ReapInterval  time.Duration

	// ICEServers is the STUN/TURN list served to clients at /webrtc/ice.
	ICEServers []webrtc.ICEServer

	TURNREST TurnRESTConfig
}

// TurnRESTConfig enables minting ephemeral TURN credentials on the ICE
// handout instead of serving a static TURN password.
type TurnRESTConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return c.SharedSecret != ""
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := string(DefaultMode)
	if raw, ok := lookup(envVarMode); ok && strings.TrimSpace(raw) != "" {
		modeDefault = strings.TrimSpace(raw)
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	wsWriteTimeout, err := envDurationOrDefault(lookup, envVarWSWriteTimeout, DefaultWSWriteTimeout)
	if err != nil {
		return Config{}, err
	}
	roomRetention, err := envDurationOrDefault(lookup, envVarRoomRetention, DefaultRoomRetention)
	if err != nil {
		return Config{}, err
	}
	reapInterval, err := envDurationOrDefault(lookup, envVarReapInterval, DefaultReapInterval)
	if err != nil {
		return Config{}, err
	}
	turnRESTTTL, err := envDurationOrDefault(lookup, envVarTURNRESTTTL, DefaultTURNRESTTTL)
	if err != nil {
		return Config{}, err
	}
	sendQueueSize, err := envIntOrDefault(lookup, envVarSendQueueSize, DefaultSendQueueSize)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSec, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes := DefaultMaxMessageBytes
	if raw, ok := lookup(envVarMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}

	fs := flag.NewFlagSet("beamdrop-signaling-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close connections with no reads or pongs for this long (env "+envVarWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Liveness ping period; must be shorter than ws-idle-timeout (env "+envVarWSPingInterval+")")
	fs.DurationVar(&wsWriteTimeout, "ws-write-timeout", wsWriteTimeout, "Per-frame write deadline (env "+envVarWSWriteTimeout+")")
	fs.IntVar(&sendQueueSize, "send-queue-size", sendQueueSize, "Outbound frames buffered per peer before eviction (env "+envVarSendQueueSize+")")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound signaling frame size (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Per-connection inbound message rate; 0 disables the limit (env "+envVarMaxMessagesPerSec+")")
	fs.DurationVar(&roomRetention, "room-retention", roomRetention, "How long an empty room survives before the reaper may delete it (env "+envVarRoomRetention+")")
	fs.DurationVar(&reapInterval, "room-reap-interval", reapInterval, "Idle-room sweep period (env "+envVarReapInterval+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret; enables ephemeral TURN credentials (env "+envVarTURNRESTSharedSecret+")")
	fs.DurationVar(&turnRESTTTL, "turn-rest-ttl", turnRESTTTL, "TURN REST credential lifetime (env "+envVarTURNRESTTTL+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix (env "+envVarTURNRESTUsernamePrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}
	iceServers, err := parseICEServers(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if wsIdleTimeout <= 0 || wsPingInterval <= 0 || wsWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("websocket timeouts must be positive")
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s (%s) must be shorter than %s (%s)",
			envVarWSPingInterval, wsPingInterval, envVarWSIdleTimeout, wsIdleTimeout)
	}
	if sendQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarSendQueueSize)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxMessageBytes)
	}
	if maxMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", envVarMaxMessagesPerSec)
	}
	if roomRetention <= 0 || reapInterval <= 0 {
		return Config{}, fmt.Errorf("room retention and reap interval must be positive")
	}
	if turnRESTSharedSecret != "" {
		if turnRESTTTL <= 0 {
			return Config{}, fmt.Errorf("%s must be positive when %s is set", envVarTURNRESTTTL, envVarTURNRESTSharedSecret)
		}
		if turnRESTUsernamePrefix == "" || strings.Contains(turnRESTUsernamePrefix, ":") {
			return Config{}, fmt.Errorf("invalid %s %q", envVarTURNRESTUsernamePrefix, turnRESTUsernamePrefix)
		}
	}

	return Config{
		ListenAddr:           listenAddr,
		Mode:                 mode,
		LogFormat:            logFormat,
		LogLevel:             logLevel,
		ShutdownTimeout:      shutdownTimeout,
		AllowedOrigins:       allowedOrigins,
		WSIdleTimeout:        wsIdleTimeout,
		WSPingInterval:       wsPingInterval,
		WSWriteTimeout:       wsWriteTimeout,
		SendQueueSize:        sendQueueSize,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		RoomRetention:        roomRetention,
		ReapInterval:         reapInterval,
		ICEServers:           iceServers,
		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTL:            turnRESTTTL,
			UsernamePrefix: turnRESTUsernamePrefix,
		},
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (want dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (want text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid %s entry %q", envVarAllowedOrigins, entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
