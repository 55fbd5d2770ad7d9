package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RelayName   string           `yaml:"relay_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Relay       RelayConfig      `yaml:"relay"`
	Poll        PollConfig       `yaml:"poll"`
	Segments    SegmentsConfig   `yaml:"segments"`
	Credentials CredentialConfig `yaml:"credentials"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Playback    PlaybackConfig   `yaml:"playback"`
	Capture     CaptureConfig    `yaml:"capture"`
	Transcript  TranscriptConfig `yaml:"transcript"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type RelayConfig struct {
	ChannelID      string `yaml:"channel_id"`
	Mode           string `yaml:"mode"` // relay, capture
	TargetLanguage string `yaml:"target_language"`
	Voice          string `yaml:"voice"`
	Backend        string `yaml:"backend"`
	CooldownMS     int    `yaml:"error_cooldown_ms"`
	DebounceMS     int    `yaml:"drain_debounce_ms"`
}

type PollConfig struct {
	Enabled       bool `yaml:"enabled"`
	IntervalMinMS int  `yaml:"interval_min_ms"`
	IntervalMaxMS int  `yaml:"interval_max_ms"`
}

type SegmentsConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Table   string `yaml:"table"`
}

type CredentialConfig struct {
	ConfigKey string   `yaml:"config_key"`
	MaxKeys   int      `yaml:"max_keys"`
	Seed      []string `yaml:"seed"`
}

type SynthesisConfig struct {
	Backend    string `yaml:"backend"` // inline, live, mock
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type PlaybackConfig struct {
	Sink         string `yaml:"sink"` // speaker, discard
	SpeakerBufMS int    `yaml:"speaker_buffer_ms"`
}

type CaptureConfig struct {
	Engine          string `yaml:"engine"` // socket, duplex, device
	Source          string `yaml:"source"` // mic, loopback, feed
	SocketURL       string `yaml:"socket_url"`
	SocketKey       string `yaml:"socket_key"`
	DuplexURL       string `yaml:"duplex_url"`
	DuplexKey       string `yaml:"duplex_key"`
	DeviceCommand   string `yaml:"device_command"`
	MicCommand      string `yaml:"mic_command"`
	LoopbackCommand string `yaml:"loopback_command"`
	FeedURL         string `yaml:"feed_url"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
}

type TranscriptConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxTurns      int    `yaml:"max_turns"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RelayName:   "orbit-relay",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Relay: RelayConfig{
			ChannelID:      "",
			Mode:           "relay",
			TargetLanguage: "en",
			Voice:          "Zephyr",
			Backend:        "inline",
			CooldownMS:     5000,
			DebounceMS:     100,
		},
		Poll: PollConfig{
			Enabled:       true,
			IntervalMinMS: 1500,
			IntervalMaxMS: 3500,
		},
		Segments: SegmentsConfig{
			Table: "transcriptions",
		},
		Credentials: CredentialConfig{
			ConfigKey: "orbit_api_keys",
			MaxKeys:   20,
		},
		Synthesis: SynthesisConfig{
			Backend:    "mock",
			Model:      "speech-inline-1",
			SampleRate: 24000,
			Channels:   1,
			TimeoutMS:  45000,
		},
		Playback: PlaybackConfig{
			Sink:         "discard",
			SpeakerBufMS: 100,
		},
		Capture: CaptureConfig{
			Engine:          "socket",
			Source:          "mic",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 250,
		},
		Transcript: TranscriptConfig{
			Path:          "./data/orbit-transcript.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxTurns:      10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RelayName, "ORBIT_RELAY_NAME")
	overrideString(&cfg.Environment, "ORBIT_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ORBIT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ORBIT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ORBIT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ORBIT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ORBIT_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "ORBIT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ORBIT_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "ORBIT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ORBIT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ORBIT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ORBIT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ORBIT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ORBIT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Relay.ChannelID, "ORBIT_RELAY_CHANNEL_ID")
	overrideString(&cfg.Relay.Mode, "ORBIT_RELAY_MODE")
	overrideString(&cfg.Relay.TargetLanguage, "ORBIT_RELAY_TARGET_LANGUAGE")
	overrideString(&cfg.Relay.Voice, "ORBIT_RELAY_VOICE")
	overrideString(&cfg.Relay.Backend, "ORBIT_RELAY_BACKEND")
	overrideInt(&cfg.Relay.CooldownMS, "ORBIT_RELAY_ERROR_COOLDOWN_MS")
	overrideInt(&cfg.Relay.DebounceMS, "ORBIT_RELAY_DRAIN_DEBOUNCE_MS")
	overrideBool(&cfg.Poll.Enabled, "ORBIT_POLL_ENABLED")
	overrideInt(&cfg.Poll.IntervalMinMS, "ORBIT_POLL_INTERVAL_MIN_MS")
	overrideInt(&cfg.Poll.IntervalMaxMS, "ORBIT_POLL_INTERVAL_MAX_MS")
	overrideString(&cfg.Segments.BaseURL, "ORBIT_SEGMENTS_BASE_URL")
	overrideString(&cfg.Segments.APIKey, "ORBIT_SEGMENTS_API_KEY")
	overrideString(&cfg.Segments.Table, "ORBIT_SEGMENTS_TABLE")
	overrideString(&cfg.Credentials.ConfigKey, "ORBIT_CREDENTIALS_CONFIG_KEY")
	overrideInt(&cfg.Credentials.MaxKeys, "ORBIT_CREDENTIALS_MAX_KEYS")
	overrideStringSlice(&cfg.Credentials.Seed, "ORBIT_CREDENTIALS_SEED")
	overrideString(&cfg.Synthesis.Backend, "ORBIT_SYNTHESIS_BACKEND")
	overrideString(&cfg.Synthesis.Endpoint, "ORBIT_SYNTHESIS_ENDPOINT")
	overrideString(&cfg.Synthesis.Model, "ORBIT_SYNTHESIS_MODEL")
	overrideInt(&cfg.Synthesis.SampleRate, "ORBIT_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.Channels, "ORBIT_SYNTHESIS_CHANNELS")
	overrideInt(&cfg.Synthesis.TimeoutMS, "ORBIT_SYNTHESIS_TIMEOUT_MS")
	overrideString(&cfg.Playback.Sink, "ORBIT_PLAYBACK_SINK")
	overrideInt(&cfg.Playback.SpeakerBufMS, "ORBIT_PLAYBACK_SPEAKER_BUFFER_MS")
	overrideString(&cfg.Capture.Engine, "ORBIT_CAPTURE_ENGINE")
	overrideString(&cfg.Capture.Source, "ORBIT_CAPTURE_SOURCE")
	overrideString(&cfg.Capture.SocketURL, "ORBIT_CAPTURE_SOCKET_URL")
	overrideString(&cfg.Capture.SocketKey, "ORBIT_CAPTURE_SOCKET_KEY")
	overrideString(&cfg.Capture.DuplexURL, "ORBIT_CAPTURE_DUPLEX_URL")
	overrideString(&cfg.Capture.DuplexKey, "ORBIT_CAPTURE_DUPLEX_KEY")
	overrideString(&cfg.Capture.DeviceCommand, "ORBIT_CAPTURE_DEVICE_COMMAND")
	overrideString(&cfg.Capture.MicCommand, "ORBIT_CAPTURE_MIC_COMMAND")
	overrideString(&cfg.Capture.LoopbackCommand, "ORBIT_CAPTURE_LOOPBACK_COMMAND")
	overrideString(&cfg.Capture.FeedURL, "ORBIT_CAPTURE_FEED_URL")
	overrideInt(&cfg.Capture.SampleRate, "ORBIT_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "ORBIT_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.FrameDurationMS, "ORBIT_CAPTURE_FRAME_DURATION_MS")
	overrideString(&cfg.Transcript.Path, "ORBIT_TRANSCRIPT_PATH")
	overrideString(&cfg.Transcript.RetentionMode, "ORBIT_TRANSCRIPT_RETENTION_MODE")
	overrideInt(&cfg.Transcript.RetentionDays, "ORBIT_TRANSCRIPT_RETENTION_DAYS")
	overrideInt(&cfg.Transcript.MaxTurns, "ORBIT_TRANSCRIPT_MAX_TURNS")
	overrideBool(&cfg.Transcript.VacuumOnStart, "ORBIT_TRANSCRIPT_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RelayName == "" {
		return errors.New("relay_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Relay.Mode {
	case "relay", "capture":
	default:
		return errors.New("relay.mode must be one of relay|capture")
	}
	if cfg.Relay.CooldownMS <= 0 {
		return errors.New("relay.error_cooldown_ms must be positive")
	}
	if cfg.Relay.DebounceMS < 0 {
		return errors.New("relay.drain_debounce_ms must be >= 0")
	}
	if cfg.Poll.Enabled {
		if cfg.Poll.IntervalMinMS <= 0 {
			return errors.New("poll.interval_min_ms must be positive")
		}
		if cfg.Poll.IntervalMaxMS < cfg.Poll.IntervalMinMS {
			return errors.New("poll.interval_max_ms must be >= poll.interval_min_ms")
		}
	}
	if cfg.Credentials.MaxKeys <= 0 {
		return errors.New("credentials.max_keys must be positive")
	}
	switch cfg.Synthesis.Backend {
	case "inline", "live", "mock":
	default:
		return errors.New("synthesis.backend must be one of inline|live|mock")
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Synthesis.Channels <= 0 {
		return errors.New("synthesis.channels must be positive")
	}
	switch cfg.Playback.Sink {
	case "speaker", "discard":
	default:
		return errors.New("playback.sink must be one of speaker|discard")
	}
	switch cfg.Capture.Engine {
	case "socket", "duplex", "device":
	default:
		return errors.New("capture.engine must be one of socket|duplex|device")
	}
	switch cfg.Capture.Source {
	case "mic", "loopback", "feed":
	default:
		return errors.New("capture.source must be one of mic|loopback|feed")
	}
	if cfg.Capture.Source == "feed" && cfg.Capture.Engine != "socket" {
		return errors.New("capture.source=feed is only supported by the socket engine")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.FrameDurationMS <= 0 {
		return errors.New("capture.frame_duration_ms must be positive")
	}
	if cfg.Transcript.Path == "" {
		return errors.New("transcript.path must not be empty")
	}
	switch cfg.Transcript.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("transcript.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Transcript.RetentionDays < 0 {
		return errors.New("transcript.retention_days must be >= 0")
	}
	return nil
}
