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

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// WorkspaceConfig describes the on-disk layout the pipeline sweeps.
type WorkspaceConfig struct {
	InputDir     string `yaml:"input_dir"`
	ProcessedDir string `yaml:"processed_dir"`
	CleanedDir   string `yaml:"cleaned_dir"`
	OutputDir    string `yaml:"output_dir"`
}

type GeneratorConfig struct {
	Mode          string  `yaml:"mode"` // mock, openai, ollama, exec
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Command       string  `yaml:"command"`
	Model         string  `yaml:"model"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	MaxInputChars int     `yaml:"max_input_chars"`
	MinTurns      int     `yaml:"min_turns"`
	MaxRetries    int     `yaml:"max_retries"`
}

type SynthesisConfig struct {
	Mode           string            `yaml:"mode"` // mock, elevenlabs, exec
	Endpoint       string            `yaml:"endpoint"`
	APIKey         string            `yaml:"api_key"`
	Command        string            `yaml:"command"`
	Voices         map[string]string `yaml:"voices"`
	SampleRate     int               `yaml:"sample_rate"`
	Channels       int               `yaml:"channels"`
	MaxRetries     int               `yaml:"max_retries"`
	RetryBackoffMS int               `yaml:"retry_backoff_ms"`
	Concurrency    int               `yaml:"concurrency"`
	OnFailure      string            `yaml:"on_failure"` // abort, skip-with-silence
	SilenceMS      int               `yaml:"silence_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type FetchConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Mirrors    []string `yaml:"mirrors"`
	PaperLimit int      `yaml:"paper_limit"`
	DelayMS    int      `yaml:"delay_ms"`
}

type ExtractConfig struct {
	MaxChars   int  `yaml:"max_chars"`
	ChunkSize  int  `yaml:"chunk_size"`
	CleanModel bool `yaml:"clean_with_model"`
}

type PipelineConfig struct {
	Enabled         bool `yaml:"enabled"`
	SweepIntervalMS int  `yaml:"sweep_interval_ms"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Workspace   WorkspaceConfig `yaml:"workspace"`
	Generator   GeneratorConfig `yaml:"generator"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Store       StoreConfig     `yaml:"store"`
	Fetch       FetchConfig     `yaml:"fetch"`
	Extract     ExtractConfig   `yaml:"extract"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
}

func Default() Config {
	return Config{
		RuntimeName: "papercast-runtime",
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
			Enabled:        false,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Workspace: WorkspaceConfig{
			InputDir:     "./input",
			ProcessedDir: "./processed_pdfs",
			CleanedDir:   "./cleaned_text",
			OutputDir:    "./outputs",
		},
		Generator: GeneratorConfig{
			Mode:          "mock",
			Endpoint:      "http://localhost:11434",
			Model:         "gpt-4-turbo-preview",
			MaxTokens:     4000,
			Temperature:   0.7,
			MaxInputChars: 100000,
			MinTurns:      2,
			MaxRetries:    2,
		},
		Synthesis: SynthesisConfig{
			Mode:     "mock",
			Endpoint: "https://api.elevenlabs.io",
			Voices: map[string]string{
				"Host":  "pFZP5JQG7iQjIQuC4Bku",
				"Guest": "flq6f7yk4E4fJM5XTYuZ",
			},
			SampleRate:     22050,
			Channels:       1,
			MaxRetries:     3,
			RetryBackoffMS: 500,
			Concurrency:    2,
			OnFailure:      "abort",
			SilenceMS:      1000,
		},
		Store: StoreConfig{
			Path: "./data/papercast-transcripts.db",
		},
		Fetch: FetchConfig{
			Enabled:    false,
			Mirrors:    []string{"https://sci-hub.se/%s"},
			PaperLimit: 1,
			DelayMS:    3000,
		},
		Extract: ExtractConfig{
			MaxChars:   100000,
			ChunkSize:  1000,
			CleanModel: false,
		},
		Pipeline: PipelineConfig{
			Enabled:         true,
			SweepIntervalMS: 60000,
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
	overrideString(&cfg.RuntimeName, "PAPERCAST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PAPERCAST_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PAPERCAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PAPERCAST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PAPERCAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PAPERCAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PAPERCAST_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "PAPERCAST_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "PAPERCAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PAPERCAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PAPERCAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PAPERCAST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PAPERCAST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PAPERCAST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Workspace.InputDir, "PAPERCAST_WORKSPACE_INPUT_DIR")
	overrideString(&cfg.Workspace.ProcessedDir, "PAPERCAST_WORKSPACE_PROCESSED_DIR")
	overrideString(&cfg.Workspace.CleanedDir, "PAPERCAST_WORKSPACE_CLEANED_DIR")
	overrideString(&cfg.Workspace.OutputDir, "PAPERCAST_WORKSPACE_OUTPUT_DIR")
	overrideString(&cfg.Generator.Mode, "PAPERCAST_GENERATOR_MODE")
	overrideString(&cfg.Generator.Endpoint, "PAPERCAST_GENERATOR_ENDPOINT")
	overrideString(&cfg.Generator.APIKey, "PAPERCAST_GENERATOR_API_KEY")
	overrideString(&cfg.Generator.Command, "PAPERCAST_GENERATOR_COMMAND")
	overrideString(&cfg.Generator.Model, "PAPERCAST_GENERATOR_MODEL")
	overrideInt(&cfg.Generator.MaxTokens, "PAPERCAST_GENERATOR_MAX_TOKENS")
	overrideFloat(&cfg.Generator.Temperature, "PAPERCAST_GENERATOR_TEMPERATURE")
	overrideInt(&cfg.Generator.MaxInputChars, "PAPERCAST_GENERATOR_MAX_INPUT_CHARS")
	overrideInt(&cfg.Generator.MinTurns, "PAPERCAST_GENERATOR_MIN_TURNS")
	overrideInt(&cfg.Generator.MaxRetries, "PAPERCAST_GENERATOR_MAX_RETRIES")
	overrideString(&cfg.Synthesis.Mode, "PAPERCAST_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Endpoint, "PAPERCAST_SYNTHESIS_ENDPOINT")
	overrideString(&cfg.Synthesis.APIKey, "PAPERCAST_SYNTHESIS_API_KEY")
	overrideString(&cfg.Synthesis.Command, "PAPERCAST_SYNTHESIS_COMMAND")
	overrideInt(&cfg.Synthesis.SampleRate, "PAPERCAST_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.Channels, "PAPERCAST_SYNTHESIS_CHANNELS")
	overrideInt(&cfg.Synthesis.MaxRetries, "PAPERCAST_SYNTHESIS_MAX_RETRIES")
	overrideInt(&cfg.Synthesis.RetryBackoffMS, "PAPERCAST_SYNTHESIS_RETRY_BACKOFF_MS")
	overrideInt(&cfg.Synthesis.Concurrency, "PAPERCAST_SYNTHESIS_CONCURRENCY")
	overrideString(&cfg.Synthesis.OnFailure, "PAPERCAST_SYNTHESIS_ON_FAILURE")
	overrideInt(&cfg.Synthesis.SilenceMS, "PAPERCAST_SYNTHESIS_SILENCE_MS")
	overrideString(&cfg.Store.Path, "PAPERCAST_STORE_PATH")
	overrideBool(&cfg.Store.VacuumOnStart, "PAPERCAST_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Fetch.Enabled, "PAPERCAST_FETCH_ENABLED")
	overrideStringSlice(&cfg.Fetch.Mirrors, "PAPERCAST_FETCH_MIRRORS")
	overrideInt(&cfg.Fetch.PaperLimit, "PAPERCAST_FETCH_PAPER_LIMIT")
	overrideInt(&cfg.Fetch.DelayMS, "PAPERCAST_FETCH_DELAY_MS")
	overrideInt(&cfg.Extract.MaxChars, "PAPERCAST_EXTRACT_MAX_CHARS")
	overrideInt(&cfg.Extract.ChunkSize, "PAPERCAST_EXTRACT_CHUNK_SIZE")
	overrideBool(&cfg.Extract.CleanModel, "PAPERCAST_EXTRACT_CLEAN_WITH_MODEL")
	overrideBool(&cfg.Pipeline.Enabled, "PAPERCAST_PIPELINE_ENABLED")
	overrideInt(&cfg.Pipeline.SweepIntervalMS, "PAPERCAST_PIPELINE_SWEEP_INTERVAL_MS")
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
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled && len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when the bus is enabled")
	}
	if cfg.Workspace.InputDir == "" || cfg.Workspace.OutputDir == "" {
		return errors.New("workspace.input_dir and workspace.output_dir must not be empty")
	}
	switch cfg.Generator.Mode {
	case "mock", "openai", "ollama", "exec":
	default:
		return errors.New("generator.mode must be one of mock|openai|ollama|exec")
	}
	if cfg.Generator.Mode == "openai" && cfg.Generator.APIKey == "" {
		return errors.New("generator.api_key must be set when mode=openai")
	}
	if cfg.Generator.Mode == "ollama" && cfg.Generator.Endpoint == "" {
		return errors.New("generator.endpoint must be set when mode=ollama")
	}
	if cfg.Generator.Mode == "exec" && cfg.Generator.Command == "" {
		return errors.New("generator.command must be set when mode=exec")
	}
	if cfg.Generator.MaxInputChars <= 0 {
		return errors.New("generator.max_input_chars must be positive")
	}
	if cfg.Generator.MinTurns < 2 {
		return errors.New("generator.min_turns must be at least 2")
	}
	if cfg.Generator.MaxRetries < 0 {
		return errors.New("generator.max_retries must be >= 0")
	}
	switch cfg.Synthesis.Mode {
	case "mock", "elevenlabs", "exec":
	default:
		return errors.New("synthesis.mode must be one of mock|elevenlabs|exec")
	}
	if cfg.Synthesis.Mode == "elevenlabs" && cfg.Synthesis.APIKey == "" {
		return errors.New("synthesis.api_key must be set when mode=elevenlabs")
	}
	if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
		return errors.New("synthesis.command must be set when mode=exec")
	}
	if len(cfg.Synthesis.Voices) == 0 {
		return errors.New("synthesis.voices must not be empty")
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Synthesis.Channels <= 0 {
		return errors.New("synthesis.channels must be positive")
	}
	if cfg.Synthesis.Concurrency <= 0 {
		return errors.New("synthesis.concurrency must be >= 1")
	}
	switch cfg.Synthesis.OnFailure {
	case "abort", "skip-with-silence":
	default:
		return errors.New("synthesis.on_failure must be one of abort|skip-with-silence")
	}
	if cfg.Synthesis.SilenceMS <= 0 {
		return errors.New("synthesis.silence_ms must be positive")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Fetch.Enabled {
		if len(cfg.Fetch.Mirrors) == 0 {
			return errors.New("fetch.mirrors must not be empty when fetch is enabled")
		}
		for _, m := range cfg.Fetch.Mirrors {
			if !strings.Contains(m, "%s") {
				return fmt.Errorf("fetch mirror %q must contain a %%s query placeholder", m)
			}
		}
		if cfg.Fetch.PaperLimit <= 0 {
			return errors.New("fetch.paper_limit must be >= 1")
		}
	}
	if cfg.Extract.MaxChars <= 0 {
		return errors.New("extract.max_chars must be positive")
	}
	if cfg.Extract.ChunkSize <= 0 {
		return errors.New("extract.chunk_size must be positive")
	}
	if cfg.Pipeline.Enabled && cfg.Pipeline.SweepIntervalMS <= 0 {
		return errors.New("pipeline.sweep_interval_ms must be positive when the pipeline is enabled")
	}
	return nil
}
