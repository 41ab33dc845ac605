package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address game clients connect to.
	DefaultAddr = ":3000"
	// DefaultHTTPAddr serves the operational endpoints and the WebSocket transport.
	DefaultHTTPAddr = ":8080"
	// DefaultMaxClients bounds concurrent sessions. Zero disables the limit.
	DefaultMaxClients = 256

	// DefaultTickRate is the nominal number of simulation ticks per second.
	DefaultTickRate = 60
	// DefaultDiagnosticEvery controls how many ticks pass between frame timing logs.
	DefaultDiagnosticEvery = 200

	// DefaultFraming selects the delimiter-free length-prefixed framing.
	DefaultFraming = "length"
	// DefaultEncoding selects the JSON payload encoding.
	DefaultEncoding = "json"
	// DefaultMaxFrameBytes limits a single frame's payload.
	DefaultMaxFrameBytes = 1 << 20
	// DefaultWriteTimeout bounds how long a session may block writing to its socket.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultGravityX is applied to velocities once per tick, unscaled.
	DefaultGravityX = 0.0
	// DefaultGravityY is applied to velocities scaled by the tick's delta time.
	DefaultGravityY = 9.81

	// DefaultReplayFrameEvery controls how many ticks pass between journaled world frames.
	DefaultReplayFrameEvery = 6
	// DefaultReplayMaxBundles caps how many replay bundles are retained on disk.
	DefaultReplayMaxBundles = 20
	// DefaultReplayMaxAge removes replay bundles older than this.
	DefaultReplayMaxAge = 72 * time.Hour
	// DefaultReplayDumpWindow bounds how frequently replay dumps may be requested.
	DefaultReplayDumpWindow = time.Minute
	// DefaultReplayDumpBurst sets how many replay dumps may be requested per window.
	DefaultReplayDumpBurst = 1

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "server.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the game server.
type Config struct {
	Address         string
	HTTPAddress     string
	GRPCAddress     string
	AllowedOrigins  []string
	MaxClients      int
	TickRate        int
	DiagnosticEvery int
	Framing         string
	Encoding        string
	MaxFrameBytes   int
	WriteTimeout    time.Duration
	GravityX        float64
	GravityY        float64
	GRPCSecret      string
	AdminToken      string
	Replay          ReplayConfig
	Logging         LoggingConfig
}

// ReplayConfig controls the replay journal. An empty Dir disables it.
type ReplayConfig struct {
	Dir        string
	FrameEvery int
	MaxBundles int
	MaxAge     time.Duration
	DumpWindow time.Duration
	DumpBurst  int
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TickInterval converts the tick rate into the per-frame budget.
func (c *Config) TickInterval() time.Duration {
	if c == nil || c.TickRate <= 0 {
		return time.Second / DefaultTickRate
	}
	return time.Second / time.Duration(c.TickRate)
}

// Load reads the server configuration from environment variables, applying sane
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("PLATFORMER_ADDR", DefaultAddr),
		HTTPAddress:     lookupString("PLATFORMER_HTTP_ADDR", DefaultHTTPAddr),
		GRPCAddress:     strings.TrimSpace(os.Getenv("PLATFORMER_GRPC_ADDR")),
		AllowedOrigins:  parseList(os.Getenv("PLATFORMER_ALLOWED_ORIGINS")),
		MaxClients:      DefaultMaxClients,
		TickRate:        DefaultTickRate,
		DiagnosticEvery: DefaultDiagnosticEvery,
		Framing:         strings.ToLower(getString("PLATFORMER_FRAMING", DefaultFraming)),
		Encoding:        strings.ToLower(getString("PLATFORMER_ENCODING", DefaultEncoding)),
		MaxFrameBytes:   DefaultMaxFrameBytes,
		WriteTimeout:    DefaultWriteTimeout,
		GravityX:        DefaultGravityX,
		GravityY:        DefaultGravityY,
		GRPCSecret:      strings.TrimSpace(os.Getenv("PLATFORMER_GRPC_SECRET")),
		AdminToken:      strings.TrimSpace(os.Getenv("PLATFORMER_ADMIN_TOKEN")),
		Replay: ReplayConfig{
			Dir:        strings.TrimSpace(os.Getenv("PLATFORMER_REPLAY_DIR")),
			FrameEvery: DefaultReplayFrameEvery,
			MaxBundles: DefaultReplayMaxBundles,
			MaxAge:     DefaultReplayMaxAge,
			DumpWindow: DefaultReplayDumpWindow,
			DumpBurst:  DefaultReplayDumpBurst,
		},
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("PLATFORMER_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("PLATFORMER_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_TICK_RATE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > 1000 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_TICK_RATE must be an integer between 1 and 1000, got %q", raw))
		} else {
			cfg.TickRate = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_DIAGNOSTIC_EVERY")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_DIAGNOSTIC_EVERY must be a non-negative integer, got %q", raw))
		} else {
			cfg.DiagnosticEvery = value
		}
	}

	switch cfg.Framing {
	case "length", "delimiter":
	default:
		problems = append(problems, fmt.Sprintf("PLATFORMER_FRAMING must be one of length, delimiter, got %q", cfg.Framing))
	}

	switch cfg.Encoding {
	case "json", "protobuf", "msgpack":
	default:
		problems = append(problems, fmt.Sprintf("PLATFORMER_ENCODING must be one of json, protobuf, msgpack, got %q", cfg.Encoding))
	}

	if cfg.Framing == "delimiter" && cfg.Encoding != "json" {
		problems = append(problems, "PLATFORMER_FRAMING=delimiter requires PLATFORMER_ENCODING=json")
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_MAX_FRAME_BYTES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_MAX_FRAME_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxFrameBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_WRITE_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_WRITE_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.WriteTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_GRAVITY_X")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("PLATFORMER_GRAVITY_X must be a number, got %q", raw))
		} else {
			cfg.GravityX = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_GRAVITY_Y")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("PLATFORMER_GRAVITY_Y must be a number, got %q", raw))
		} else {
			cfg.GravityY = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_REPLAY_FRAME_EVERY")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_REPLAY_FRAME_EVERY must be a positive integer, got %q", raw))
		} else {
			cfg.Replay.FrameEvery = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_REPLAY_MAX_BUNDLES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_REPLAY_MAX_BUNDLES must be a non-negative integer, got %q", raw))
		} else {
			cfg.Replay.MaxBundles = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_REPLAY_MAX_AGE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_REPLAY_MAX_AGE must be a non-negative duration, got %q", raw))
		} else {
			cfg.Replay.MaxAge = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_REPLAY_DUMP_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_REPLAY_DUMP_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.Replay.DumpWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_REPLAY_DUMP_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_REPLAY_DUMP_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.Replay.DumpBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PLATFORMER_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PLATFORMER_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("PLATFORMER_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if cfg.Address == "" {
		problems = append(problems, "PLATFORMER_ADDR must not be empty")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// lookupString distinguishes an explicitly empty variable, which disables the
// listener, from an unset one.
func lookupString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(value)
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
