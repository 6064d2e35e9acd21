package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. CHATSAY_SEIKA_URL.
const EnvPrefix = "CHATSAY"

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level" split_words:"true" validate:"oneof=debug info warn error"`
	LogFormat      string `yaml:"log_format" split_words:"true" validate:"oneof=json text"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" split_words:"true"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" split_words:"true"`
	StdoutTraces   bool   `yaml:"stdout_traces" split_words:"true"`
	PrometheusBind string `yaml:"prometheus_bind" split_words:"true"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Bind    string `yaml:"bind" split_words:"true"`
	Port    int    `yaml:"port" split_words:"true" validate:"min=0,max=65535"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name" split_words:"true" validate:"required"`
	Environment string           `yaml:"environment" split_words:"true"`
	HTTP        HTTPConfig       `yaml:"http" split_words:"true"`
	Telemetry   TelemetryConfig  `yaml:"telemetry" split_words:"true"`
	Bus         BusConfig        `yaml:"bus" split_words:"true"`
	EventStore  EventStoreConfig `yaml:"event_store" split_words:"true"`
	Seika       SeikaConfig      `yaml:"seika" split_words:"true"`
	Chat        ChatConfig       `yaml:"chat" split_words:"true"`
	Relay       RelayConfig      `yaml:"relay" split_words:"true"`
	Voice       VoiceConfig      `yaml:"voice" split_words:"true"`
	Dispatch    DispatchConfig   `yaml:"dispatch" split_words:"true"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled" split_words:"true"`
	Embedded       bool     `yaml:"embedded" split_words:"true"`
	Port           int      `yaml:"port" split_words:"true"`
	StoreDir       string   `yaml:"store_dir" split_words:"true"`
	Servers        []string `yaml:"servers" split_words:"true"`
	Username       string   `yaml:"username" split_words:"true"`
	Password       string   `yaml:"password" split_words:"true"`
	Token          string   `yaml:"token" split_words:"true"`
	TLSInsecure    bool     `yaml:"tls_insecure" split_words:"true"`
	ConnectTimeout int      `yaml:"connect_timeout_ms" split_words:"true"`

	// Heartbeat settings for instance presence on the bus.
	HeartbeatInterval int `yaml:"heartbeat_interval_ms" split_words:"true" validate:"min=0"`
	HeartbeatTimeout  int `yaml:"heartbeat_timeout_ms" split_words:"true" validate:"min=0"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path" split_words:"true"`
	RetentionMode string `yaml:"retention_mode" split_words:"true" validate:"oneof=ephemeral session persistent"`
	RetentionDays int    `yaml:"retention_days" split_words:"true" validate:"min=0"`
	MaxSessions   int    `yaml:"max_sessions" split_words:"true" validate:"min=0"`
	VacuumOnStart bool   `yaml:"vacuum_on_start" split_words:"true"`
}

// SeikaConfig is the partially specified actuation endpoint. Nil fields are
// defaulted by tts.ResolveEndpoint, so absence must stay distinguishable from
// an empty string.
type SeikaConfig struct {
	Mode      string  `yaml:"mode" split_words:"true" validate:"omitempty,oneof=http mock"`
	URL       *string `yaml:"url" split_words:"true"`
	Username  *string `yaml:"username" split_words:"true"`
	Password  *string `yaml:"password" split_words:"true"`
	TimeoutMS int     `yaml:"timeout_ms" split_words:"true" validate:"min=0"`
}

type ChatConfig struct {
	Source    string          `yaml:"source" split_words:"true" validate:"oneof=irc websocket nats exec"`
	IRC       IRCConfig       `yaml:"irc" split_words:"true"`
	WebSocket WebSocketConfig `yaml:"websocket" split_words:"true"`
	NATS      NATSChatConfig  `yaml:"nats" split_words:"true"`
	Exec      ExecChatConfig  `yaml:"exec" split_words:"true"`
}

type IRCConfig struct {
	Server   string   `yaml:"server" split_words:"true"`
	UseTLS   bool     `yaml:"use_tls" split_words:"true"`
	Nickname string   `yaml:"nickname" split_words:"true"`
	Password string   `yaml:"password" split_words:"true"`
	Channels []string `yaml:"channels" split_words:"true"`
}

type WebSocketConfig struct {
	URL string `yaml:"url" split_words:"true"`
	// Format selects how frames are decoded: "json" or "irc".
	Format string `yaml:"format" split_words:"true" validate:"omitempty,oneof=json irc"`
}

type NATSChatConfig struct {
	Subject string `yaml:"subject" split_words:"true"`
}

type ExecChatConfig struct {
	Command string `yaml:"command" split_words:"true"`
}

type RelayConfig struct {
	Capacity int    `yaml:"capacity" split_words:"true" validate:"min=1"`
	Overflow string `yaml:"overflow" split_words:"true" validate:"oneof=fatal drop_oldest block"`
}

type VoiceConfig struct {
	Strategy string `yaml:"strategy" split_words:"true" validate:"oneof=first name round_robin"`
	Name     string `yaml:"name" split_words:"true"`
}

type DispatchConfig struct {
	OnFailure        string `yaml:"on_failure" split_words:"true" validate:"oneof=log ignore retry"`
	RetryMaxAttempts int    `yaml:"retry_max_attempts" split_words:"true" validate:"min=0"`
	RetryInitialMS   int    `yaml:"retry_initial_ms" split_words:"true" validate:"min=0"`
	PublishResults   bool   `yaml:"publish_results" split_words:"true"`
}

func Default() Config {
	return Config{
		RuntimeName: "chatsay",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:           false,
			Embedded:          false,
			Port:              4222,
			StoreDir:          "./data/nats",
			Servers:           []string{"nats://localhost:4222"},
			ConnectTimeout:    2000,
			HeartbeatInterval: 5000,
			HeartbeatTimeout:  15000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/chatsay.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Seika: SeikaConfig{
			Mode: "http",
		},
		Chat: ChatConfig{
			Source: "irc",
			IRC: IRCConfig{
				Server: "irc.chat.twitch.tv:6697",
				UseTLS: true,
			},
			WebSocket: WebSocketConfig{
				Format: "json",
			},
			NATS: NATSChatConfig{
				Subject: "chat.message",
			},
		},
		Relay: RelayConfig{
			Capacity: 32,
			Overflow: "fatal",
		},
		Voice: VoiceConfig{
			Strategy: "first",
		},
		Dispatch: DispatchConfig{
			OnFailure:        "log",
			RetryMaxAttempts: 3,
			RetryInitialMS:   250,
		},
	}
}

// Load reads path on top of Default, applies CHATSAY_* environment overrides
// and validates the result. An empty path skips the file.
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
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes a YAML document into cfg, leaving unspecified fields untouched.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

func validate(cfg Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.HTTP.Enabled && cfg.HTTP.Port == 0 {
		return errors.New("http.port must be between 1 and 65535 when http is enabled")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port == 0 || cfg.Bus.Port > 65535 || cfg.Bus.Port < -1 {
				return errors.New("bus.port must be between 1 and 65535 (or -1 for random) when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.HeartbeatInterval <= 0 {
			return errors.New("bus.heartbeat_interval_ms must be > 0 when the bus is enabled")
		}
		if cfg.Bus.HeartbeatTimeout <= cfg.Bus.HeartbeatInterval {
			return errors.New("bus.heartbeat_timeout_ms must exceed bus.heartbeat_interval_ms")
		}
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty unless retention_mode=ephemeral")
	}
	switch cfg.Chat.Source {
	case "irc":
		if cfg.Chat.IRC.Server == "" {
			return errors.New("chat.irc.server must be set when source=irc")
		}
		if cfg.Chat.IRC.Nickname == "" {
			return errors.New("chat.irc.nickname must be set when source=irc")
		}
		if len(cfg.Chat.IRC.Channels) == 0 {
			return errors.New("chat.irc.channels must not be empty when source=irc")
		}
	case "websocket":
		if cfg.Chat.WebSocket.URL == "" {
			return errors.New("chat.websocket.url must be set when source=websocket")
		}
	case "nats":
		if !cfg.Bus.Enabled {
			return errors.New("bus.enabled must be true when source=nats")
		}
		if cfg.Chat.NATS.Subject == "" {
			return errors.New("chat.nats.subject must be set when source=nats")
		}
	case "exec":
		if strings.TrimSpace(cfg.Chat.Exec.Command) == "" {
			return errors.New("chat.exec.command must be set when source=exec")
		}
	}
	if cfg.Voice.Strategy == "name" && cfg.Voice.Name == "" {
		return errors.New("voice.name must be set when strategy=name")
	}
	if cfg.Dispatch.OnFailure == "retry" && cfg.Dispatch.RetryMaxAttempts < 1 {
		return errors.New("dispatch.retry_max_attempts must be >= 1 when on_failure=retry")
	}
	if cfg.Dispatch.PublishResults && !cfg.Bus.Enabled {
		return errors.New("bus.enabled must be true when dispatch.publish_results is set")
	}
	return nil
}
