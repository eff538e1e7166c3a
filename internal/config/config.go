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
	LogFile      string `yaml:"log_file"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Backend     BackendConfig   `yaml:"backend"`
	Store       StoreConfig     `yaml:"store"`
	LLM         LLMConfig       `yaml:"llm"`
	Dictation   DictationConfig `yaml:"dictation"`
	Playback    PlaybackConfig  `yaml:"playback"`
	UI          UIConfig        `yaml:"ui"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
	PersistEvents  bool     `yaml:"persist_events"`
	EventRetention int      `yaml:"event_retention_hours"`
}

// BackendConfig selects where questions and sessions go.
type BackendConfig struct {
	Mode      string `yaml:"mode"` // remote, embedded
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// StoreConfig configures the embedded SQLite session store.
type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LLMConfig struct {
	Mode         string  `yaml:"mode"` // mock, ollama, exec
	Endpoint     string  `yaml:"endpoint"`
	Command      string  `yaml:"command"`
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`
}

type DictationConfig struct {
	Mode              string `yaml:"mode"` // mock, exec
	CaptureCommand    string `yaml:"capture_command"`
	RecognizerCommand string `yaml:"recognizer_command"`
	ModelPath         string `yaml:"model_path"`
	Language          string `yaml:"language"`
	SampleRate        int    `yaml:"sample_rate"`
	Channels          int    `yaml:"channels"`
	PartialEveryMS    int    `yaml:"partial_every_ms"`
	MockPhrase        string `yaml:"mock_phrase"`
}

type PlaybackConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Mode        string `yaml:"mode"` // mock, exec
	Command     string `yaml:"command"`
	Sink        string `yaml:"sink"` // discard, exec, bus
	SinkCommand string `yaml:"sink_command"`
	Voice       string `yaml:"voice"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
}

type UIConfig struct {
	Headless        bool     `yaml:"headless"`
	MaxInteractions int      `yaml:"max_interactions"`
	SampleQuestions []string `yaml:"sample_questions"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-assist",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4223,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4223"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "assist",
			PersistEvents:  true,
			EventRetention: 24,
		},
		Backend: BackendConfig{
			Mode:      "embedded",
			Endpoint:  "http://localhost:5000",
			TimeoutMS: 60000,
		},
		Store: StoreConfig{
			Path:          "./data/loqa-assist.db",
			RetentionDays: 0,
			MaxSessions:   500,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   500,
			Temperature: 0.7,
		},
		Dictation: DictationConfig{
			Mode:           "mock",
			Language:       "en-US",
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
			MockPhrase:     "Tell me about yourself",
		},
		Playback: PlaybackConfig{
			Enabled:    true,
			Mode:       "mock",
			Sink:       "discard",
			Voice:      "en-US",
			SampleRate: 22050,
			Channels:   1,
		},
		UI: UIConfig{
			MaxInteractions: 50,
			SampleQuestions: []string{
				"Tell me about yourself.",
				"What are your greatest strengths?",
				"What is your biggest weakness?",
				"Why do you want to work here?",
				"Describe a challenging project you worked on.",
				"Where do you see yourself in five years?",
			},
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
	overrideString(&cfg.RuntimeName, "LOQA_ASSIST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_ASSIST_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_ASSIST_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_ASSIST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_ASSIST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_ASSIST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFile, "LOQA_ASSIST_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_ASSIST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_ASSIST_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_ASSIST_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "LOQA_ASSIST_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_ASSIST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_ASSIST_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_ASSIST_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_ASSIST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_ASSIST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_ASSIST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_ASSIST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_ASSIST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_ASSIST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "LOQA_ASSIST_BUS_SUBJECT_PREFIX")
	overrideBool(&cfg.Bus.PersistEvents, "LOQA_ASSIST_BUS_PERSIST_EVENTS")
	overrideInt(&cfg.Bus.EventRetention, "LOQA_ASSIST_BUS_EVENT_RETENTION_HOURS")
	overrideString(&cfg.Backend.Mode, "LOQA_ASSIST_BACKEND_MODE")
	overrideString(&cfg.Backend.Endpoint, "LOQA_ASSIST_BACKEND_ENDPOINT")
	overrideInt(&cfg.Backend.TimeoutMS, "LOQA_ASSIST_BACKEND_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "LOQA_ASSIST_STORE_PATH")
	overrideInt(&cfg.Store.RetentionDays, "LOQA_ASSIST_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "LOQA_ASSIST_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "LOQA_ASSIST_STORE_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "LOQA_ASSIST_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LOQA_ASSIST_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "LOQA_ASSIST_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "LOQA_ASSIST_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "LOQA_ASSIST_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LOQA_ASSIST_LLM_TEMPERATURE")
	overrideString(&cfg.Dictation.Mode, "LOQA_ASSIST_DICTATION_MODE")
	overrideString(&cfg.Dictation.CaptureCommand, "LOQA_ASSIST_DICTATION_CAPTURE_COMMAND")
	overrideString(&cfg.Dictation.RecognizerCommand, "LOQA_ASSIST_DICTATION_RECOGNIZER_COMMAND")
	overrideString(&cfg.Dictation.ModelPath, "LOQA_ASSIST_DICTATION_MODEL_PATH")
	overrideString(&cfg.Dictation.Language, "LOQA_ASSIST_DICTATION_LANGUAGE")
	overrideInt(&cfg.Dictation.SampleRate, "LOQA_ASSIST_DICTATION_SAMPLE_RATE")
	overrideInt(&cfg.Dictation.Channels, "LOQA_ASSIST_DICTATION_CHANNELS")
	overrideInt(&cfg.Dictation.PartialEveryMS, "LOQA_ASSIST_DICTATION_PARTIAL_EVERY_MS")
	overrideString(&cfg.Dictation.MockPhrase, "LOQA_ASSIST_DICTATION_MOCK_PHRASE")
	overrideBool(&cfg.Playback.Enabled, "LOQA_ASSIST_PLAYBACK_ENABLED")
	overrideString(&cfg.Playback.Mode, "LOQA_ASSIST_PLAYBACK_MODE")
	overrideString(&cfg.Playback.Command, "LOQA_ASSIST_PLAYBACK_COMMAND")
	overrideString(&cfg.Playback.Sink, "LOQA_ASSIST_PLAYBACK_SINK")
	overrideString(&cfg.Playback.SinkCommand, "LOQA_ASSIST_PLAYBACK_SINK_COMMAND")
	overrideString(&cfg.Playback.Voice, "LOQA_ASSIST_PLAYBACK_VOICE")
	overrideInt(&cfg.Playback.SampleRate, "LOQA_ASSIST_PLAYBACK_SAMPLE_RATE")
	overrideInt(&cfg.Playback.Channels, "LOQA_ASSIST_PLAYBACK_CHANNELS")
	overrideBool(&cfg.UI.Headless, "LOQA_ASSIST_UI_HEADLESS")
	overrideInt(&cfg.UI.MaxInteractions, "LOQA_ASSIST_UI_MAX_INTERACTIONS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
		if cfg.Bus.EventRetention < 0 {
			return errors.New("bus.event_retention_hours must be >= 0")
		}
	}
	switch cfg.Backend.Mode {
	case "remote":
		if cfg.Backend.Endpoint == "" {
			return errors.New("backend.endpoint must be set when mode=remote")
		}
	case "embedded":
		if cfg.Store.Path == "" {
			return errors.New("store.path must not be empty when backend.mode=embedded")
		}
		if cfg.Store.RetentionDays < 0 {
			return errors.New("store.retention_days must be >= 0")
		}
		switch cfg.LLM.Mode {
		case "mock", "ollama", "exec":
		default:
			return errors.New("llm.mode must be one of mock|ollama|exec")
		}
		if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	default:
		return errors.New("backend.mode must be one of remote|embedded")
	}
	if cfg.Backend.TimeoutMS < 0 {
		return errors.New("backend.timeout_ms must be >= 0")
	}
	switch cfg.Dictation.Mode {
	case "mock":
	case "exec":
		if cfg.Dictation.CaptureCommand == "" {
			return errors.New("dictation.capture_command must be set when mode=exec")
		}
		if cfg.Dictation.RecognizerCommand == "" {
			return errors.New("dictation.recognizer_command must be set when mode=exec")
		}
	default:
		return errors.New("dictation.mode must be one of mock|exec")
	}
	if cfg.Dictation.SampleRate <= 0 {
		return errors.New("dictation.sample_rate must be positive")
	}
	if cfg.Dictation.Channels <= 0 {
		return errors.New("dictation.channels must be positive")
	}
	switch cfg.Playback.Mode {
	case "mock":
	case "exec":
		if cfg.Playback.Command == "" {
			return errors.New("playback.command must be set when mode=exec")
		}
	default:
		return errors.New("playback.mode must be one of mock|exec")
	}
	switch cfg.Playback.Sink {
	case "discard":
	case "exec":
		if cfg.Playback.SinkCommand == "" {
			return errors.New("playback.sink_command must be set when sink=exec")
		}
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("playback.sink=bus requires bus.enabled")
		}
	default:
		return errors.New("playback.sink must be one of discard|exec|bus")
	}
	if cfg.Playback.SampleRate <= 0 {
		return errors.New("playback.sample_rate must be positive")
	}
	if cfg.Playback.Channels <= 0 {
		return errors.New("playback.channels must be positive")
	}
	if cfg.UI.MaxInteractions < 0 {
		return errors.New("ui.max_interactions must be >= 0")
	}
	for i, q := range cfg.UI.SampleQuestions {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("ui.sample_questions[%d] must not be empty", i)
		}
	}
	return nil
}
