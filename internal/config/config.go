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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusPath string `yaml:"prometheus_path"`
}

type HTTPConfig struct {
	Bind          string `yaml:"bind"`
	Port          int    `yaml:"port"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Version     string           `yaml:"-"` // set by the binary
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Storage     StorageConfig    `yaml:"storage"`
	Intro       IntroConfig      `yaml:"intro"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Report      ReportConfig     `yaml:"report"`
	LLM         LLMConfig        `yaml:"llm"`
	Speech      SpeechConfig     `yaml:"speech"`
	STT         STTConfig        `yaml:"stt"`
	TTS         TTSConfig        `yaml:"tts"`
	Audio       AudioConfig      `yaml:"audio"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	MaxStoreMB     int      `yaml:"max_store_mb"` // embedded JetStream file store cap
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// StorageConfig describes where audio artifacts live and how long sessions
// are retained. AudioDir and AnswersDir must sit under StaticDir so that the
// files can be served back to the client.
type StorageConfig struct {
	StaticDir            string `yaml:"static_dir"`
	URLPrefix            string `yaml:"url_prefix"`
	AudioDir             string `yaml:"audio_dir"`
	AnswersDir           string `yaml:"answers_dir"`
	RetentionMinutes     int    `yaml:"retention_minutes"`
	SweepIntervalMinutes int    `yaml:"sweep_interval_minutes"`
}

type IntroConfig struct {
	Manifest string `yaml:"manifest"`
}

type PipelineConfig struct {
	Workers          int `yaml:"workers"`      // question generation loops
	FastWorkers      int `yaml:"fast_workers"` // introduction and answer analysis
	QueueSize        int `yaml:"queue_size"`
	GatewayTimeoutMS int `yaml:"gateway_timeout_ms"`
}

type ReportConfig struct {
	WaitTimeoutMS     int  `yaml:"wait_timeout_ms"`
	OverallFeedback   bool `yaml:"overall_feedback"`
	FeedbackTimeoutMS int  `yaml:"feedback_timeout_ms"`
}

type LLMConfig struct {
	Mode          string  `yaml:"mode"` // mock, gemini, ollama, exec
	Endpoint      string  `yaml:"endpoint"`
	Command       string  `yaml:"command"`
	APIKey        string  `yaml:"api_key"`
	ModelFast     string  `yaml:"model_fast"`
	ModelBalanced string  `yaml:"model_balanced"`
	DefaultTier   string  `yaml:"default_tier"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
}

// SpeechConfig carries the credentials shared by the azure STT and TTS backends.
type SpeechConfig struct {
	Key    string `yaml:"key"`
	Region string `yaml:"region"`
}

type STTConfig struct {
	Mode       string `yaml:"mode"` // mock, azure, exec
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type TTSConfig struct {
	Mode            string `yaml:"mode"`          // mock, azure, exec
	FallbackMode    string `yaml:"fallback_mode"` // auto, none, mock, exec
	Command         string `yaml:"command"`
	FallbackCommand string `yaml:"fallback_command"`
	Voice           string `yaml:"voice"`
	OutputFormat    string `yaml:"output_format"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
}

type AudioConfig struct {
	ConvertCommand string `yaml:"convert_command"`
}

func Default() Config {
	return Config{
		ServiceName: "recon",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:          "0.0.0.0",
			Port:          5000,
			MaxUploadMB:   25,
			ReadTimeoutMS: 30000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusPath: "/metrics",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			MaxStoreMB:     1024,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/recon-journal.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Storage: StorageConfig{
			StaticDir:            "./static",
			URLPrefix:            "/static",
			AudioDir:             "./static/audio",
			AnswersDir:           "./static/user_answers",
			RetentionMinutes:     60,
			SweepIntervalMinutes: 60,
		},
		Intro: IntroConfig{
			Manifest: "./static/audio/introductions/intro.yaml",
		},
		Pipeline: PipelineConfig{
			Workers:          8,
			FastWorkers:      4,
			QueueSize:        256,
			GatewayTimeoutMS: 30000,
		},
		Report: ReportConfig{
			WaitTimeoutMS:     30000,
			OverallFeedback:   true,
			FeedbackTimeoutMS: 15000,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			DefaultTier: "balanced",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		STT: STTConfig{
			Mode:       "mock",
			Language:   "en-US",
			SampleRate: 16000,
			Channels:   1,
		},
		TTS: TTSConfig{
			Mode:         "mock",
			FallbackMode: "auto",
			Voice:        "en-US-AriaNeural",
			OutputFormat: "audio-16khz-32kbitrate-mono-mp3",
			SampleRate:   16000,
			Channels:     1,
		},
		Audio: AudioConfig{
			ConvertCommand: "ffmpeg -hide_banner -loglevel error",
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
	overrideString(&cfg.ServiceName, "RECON_SERVICE_NAME")
	overrideString(&cfg.Environment, "RECON_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "RECON_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "RECON_HTTP_PORT")
	overrideInt(&cfg.HTTP.MaxUploadMB, "RECON_HTTP_MAX_UPLOAD_MB")
	overrideString(&cfg.Telemetry.LogLevel, "RECON_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "RECON_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "RECON_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "RECON_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "RECON_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "RECON_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "RECON_BUS_STORE_DIR")
	overrideInt(&cfg.Bus.MaxStoreMB, "RECON_BUS_MAX_STORE_MB")
	overrideStringSlice(&cfg.Bus.Servers, "RECON_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "RECON_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "RECON_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "RECON_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "RECON_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "RECON_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "RECON_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "RECON_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "RECON_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "RECON_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "RECON_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Storage.StaticDir, "RECON_STORAGE_STATIC_DIR")
	overrideString(&cfg.Storage.AudioDir, "RECON_STORAGE_AUDIO_DIR")
	overrideString(&cfg.Storage.AnswersDir, "RECON_STORAGE_ANSWERS_DIR")
	overrideInt(&cfg.Storage.RetentionMinutes, "RECON_STORAGE_RETENTION_MINUTES")
	overrideInt(&cfg.Storage.SweepIntervalMinutes, "RECON_STORAGE_SWEEP_INTERVAL_MINUTES")
	overrideString(&cfg.Intro.Manifest, "RECON_INTRO_MANIFEST")
	overrideInt(&cfg.Pipeline.Workers, "RECON_PIPELINE_WORKERS")
	overrideInt(&cfg.Pipeline.FastWorkers, "RECON_PIPELINE_FAST_WORKERS")
	overrideInt(&cfg.Pipeline.QueueSize, "RECON_PIPELINE_QUEUE_SIZE")
	overrideInt(&cfg.Pipeline.GatewayTimeoutMS, "RECON_PIPELINE_GATEWAY_TIMEOUT_MS")
	overrideInt(&cfg.Report.WaitTimeoutMS, "RECON_REPORT_WAIT_TIMEOUT_MS")
	overrideBool(&cfg.Report.OverallFeedback, "RECON_REPORT_OVERALL_FEEDBACK")
	overrideInt(&cfg.Report.FeedbackTimeoutMS, "RECON_REPORT_FEEDBACK_TIMEOUT_MS")
	overrideString(&cfg.LLM.Mode, "RECON_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "RECON_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "RECON_LLM_COMMAND")
	overrideString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	overrideString(&cfg.LLM.APIKey, "RECON_LLM_API_KEY")
	overrideString(&cfg.LLM.ModelFast, "RECON_LLM_MODEL_FAST")
	overrideString(&cfg.LLM.ModelBalanced, "RECON_LLM_MODEL_BALANCED")
	overrideString(&cfg.LLM.DefaultTier, "RECON_LLM_DEFAULT_TIER")
	overrideInt(&cfg.LLM.MaxTokens, "RECON_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "RECON_LLM_TEMPERATURE")
	overrideString(&cfg.Speech.Key, "AZURE_SPEECH_KEY")
	overrideString(&cfg.Speech.Key, "RECON_SPEECH_KEY")
	overrideString(&cfg.Speech.Region, "AZURE_SPEECH_REGION")
	overrideString(&cfg.Speech.Region, "RECON_SPEECH_REGION")
	overrideString(&cfg.STT.Mode, "RECON_STT_MODE")
	overrideString(&cfg.STT.Command, "RECON_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "RECON_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "RECON_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "RECON_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "RECON_STT_CHANNELS")
	overrideString(&cfg.TTS.Mode, "RECON_TTS_MODE")
	overrideString(&cfg.TTS.FallbackMode, "RECON_TTS_FALLBACK_MODE")
	overrideString(&cfg.TTS.Command, "RECON_TTS_COMMAND")
	overrideString(&cfg.TTS.FallbackCommand, "RECON_TTS_FALLBACK_COMMAND")
	overrideString(&cfg.TTS.Voice, "RECON_TTS_VOICE")
	overrideString(&cfg.TTS.OutputFormat, "RECON_TTS_OUTPUT_FORMAT")
	overrideInt(&cfg.TTS.SampleRate, "RECON_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "RECON_TTS_CHANNELS")
	overrideString(&cfg.Audio.ConvertCommand, "RECON_AUDIO_CONVERT_COMMAND")
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
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxUploadMB <= 0 {
		return errors.New("http.max_upload_mb must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
			if cfg.Bus.MaxStoreMB < 0 {
				return errors.New("bus.max_store_mb must not be negative")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Storage.StaticDir == "" || cfg.Storage.AudioDir == "" || cfg.Storage.AnswersDir == "" {
		return errors.New("storage.static_dir, storage.audio_dir and storage.answers_dir must be set")
	}
	if cfg.Storage.RetentionMinutes <= 0 {
		return errors.New("storage.retention_minutes must be positive")
	}
	if cfg.Storage.SweepIntervalMinutes <= 0 {
		return errors.New("storage.sweep_interval_minutes must be positive")
	}
	if cfg.Intro.Manifest == "" {
		return errors.New("intro.manifest must not be empty")
	}
	if cfg.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be >= 1")
	}
	if cfg.Pipeline.FastWorkers <= 0 {
		return errors.New("pipeline.fast_workers must be >= 1")
	}
	if cfg.Pipeline.QueueSize <= 0 {
		return errors.New("pipeline.queue_size must be >= 1")
	}
	if cfg.Pipeline.GatewayTimeoutMS <= 0 {
		return errors.New("pipeline.gateway_timeout_ms must be positive")
	}
	if cfg.Report.WaitTimeoutMS < 0 {
		return errors.New("report.wait_timeout_ms must be >= 0")
	}
	switch cfg.LLM.Mode {
	case "mock":
	case "gemini":
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key must be set when mode=gemini (RECON_LLM_API_KEY or GEMINI_API_KEY)")
		}
	case "ollama":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	default:
		return errors.New("llm.mode must be one of mock|gemini|ollama|exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.STT.Mode {
	case "mock":
	case "azure":
		if err := requireSpeechCredentials(cfg.Speech, "stt"); err != nil {
			return err
		}
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	default:
		return errors.New("stt.mode must be one of mock|azure|exec")
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if cfg.STT.Channels <= 0 {
		return errors.New("stt.channels must be positive")
	}
	switch cfg.TTS.Mode {
	case "mock":
	case "azure":
		if err := requireSpeechCredentials(cfg.Speech, "tts"); err != nil {
			return err
		}
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of mock|azure|exec")
	}
	switch cfg.TTS.FallbackMode {
	case "", "auto", "none", "mock":
	case "exec":
		if cfg.TTS.FallbackCommand == "" {
			return errors.New("tts.fallback_command must be set when fallback_mode=exec")
		}
	default:
		return errors.New("tts.fallback_mode must be one of auto|none|mock|exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	return nil
}

func requireSpeechCredentials(cfg SpeechConfig, section string) error {
	if cfg.Key == "" {
		return fmt.Errorf("speech.key must be set when %s.mode=azure (RECON_SPEECH_KEY or AZURE_SPEECH_KEY)", section)
	}
	if cfg.Region == "" {
		return fmt.Errorf("speech.region must be set when %s.mode=azure (RECON_SPEECH_REGION or AZURE_SPEECH_REGION)", section)
	}
	return nil
}
