package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Duration is a time.Duration read from Go duration strings ("15s") in JSON,
// env vars and flags.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"15s\": %w", err)
	}
	return d.Set(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Set and String make Duration a flag.Value.
func (d *Duration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < env vars < JSON config file < CLI flags.
type AppConfig struct {
	// Server
	DB   string `json:"db"`   // archive database connection string
	Dev  bool   `json:"dev"`  // dev mode: verbose logging
	Addr string `json:"addr"` // HTTP listen address

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir"`
	LogRequests  bool   `json:"log_requests"`
	LogEvents    bool   `json:"log_events"`
	LogWS        bool   `json:"log_ws"`
	LogDebug     bool   `json:"log_debug"`

	// Autonomous agents
	AgentProvider    string `json:"agent_provider"`    // offline | ollama | openai | claude | gemini | groq | openai-compatible
	AgentModel       string `json:"agent_model"`       // model name
	AgentOllamaURL   string `json:"agent_ollama_url"`  // Ollama server URL
	AgentURL         string `json:"agent_url"`         // base URL for openai-compatible
	AgentAPIKey      string `json:"agent_api_key"`     // API key for openai-compatible
	AgentTemperature string `json:"agent_temperature"` // float 0-1 as string
	AgentThinking    string `json:"agent_thinking"`    // none | low | medium | high | auto
	GroqAPIKey       string `json:"groq_api_key"`      // API key for groq provider

	// Game
	DefaultPlayers  int      `json:"default_players"`
	MaxRounds       int      `json:"max_rounds"`
	NightWindow     Duration `json:"night_window"`
	SpeechWindow    Duration `json:"speech_window"`
	VoteWindow      Duration `json:"vote_window"`
	DecisionTimeout Duration `json:"decision_timeout"`
	Pacing          Duration `json:"pacing"`
	Seed            int64    `json:"seed"` // 0 picks a fresh seed per session
	RateLimit       float64  `json:"rate_limit"`
	RateBurst       int      `json:"rate_burst"`
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogEvents:   cfg.LogEvents,
		LogWS:       cfg.LogWS,
		Debug:       cfg.LogDebug || cfg.Dev,
	}
}

func (cfg AppConfig) sessionConfig() SessionConfig {
	sc := defaultSessionConfig()
	sc.MaxRounds = cfg.MaxRounds
	sc.NightWindow = cfg.NightWindow.Duration
	sc.SpeechWindow = cfg.SpeechWindow.Duration
	sc.VoteWindow = cfg.VoteWindow.Duration
	sc.ReviewTimeout = cfg.DecisionTimeout.Duration
	sc.Pacing = cfg.Pacing.Duration
	return sc
}

// validate rejects settings the game cannot run with.
func (cfg AppConfig) validate() error {
	if cfg.DefaultPlayers < MinPlayers || cfg.DefaultPlayers > MaxPlayers {
		return fmt.Errorf("default_players: %w", ErrInvalidPlayerCount)
	}
	if cfg.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1, got %d", cfg.MaxRounds)
	}
	if cfg.RateLimit <= 0 || cfg.RateBurst < 1 {
		return fmt.Errorf("rate_limit and rate_burst must be positive")
	}
	windows := []struct {
		name string
		d    Duration
	}{
		{"night_window", cfg.NightWindow},
		{"speech_window", cfg.SpeechWindow},
		{"vote_window", cfg.VoteWindow},
	}
	for _, w := range windows {
		if w.d.Duration <= 0 {
			return fmt.Errorf("%s must be positive, got %s", w.name, w.d.Duration)
		}
	}
	return nil
}

func defaultConfig() AppConfig {
	sc := defaultSessionConfig()
	return AppConfig{
		DB:              "file::memory:?cache=shared",
		Addr:            ":8080",
		AgentProvider:   "offline",
		AgentOllamaURL:  "http://localhost:11434",
		DefaultPlayers:  6,
		MaxRounds:       sc.MaxRounds,
		NightWindow:     Duration{sc.NightWindow},
		SpeechWindow:    Duration{sc.SpeechWindow},
		VoteWindow:      Duration{sc.VoteWindow},
		DecisionTimeout: Duration{8 * time.Second},
		Pacing:          Duration{sc.Pacing},
		RateLimit:       5,
		RateBurst:       10,
	}
}

// loadConfig builds a config by layering: defaults → env vars → JSON config file.
// CLI flag overrides are applied separately by flagValues.applyTo after flag.Parse.
func loadConfig(configPath string) AppConfig {
	cfg := defaultConfig()

	// Layer 1: env vars
	envStr := os.Getenv
	envBool := func(key string) (val bool, set bool) {
		v := os.Getenv(key)
		if v == "" {
			return false, false
		}
		return v == "1" || v == "true" || v == "yes", true
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				log.Printf("Config: invalid %s=%q: %v", key, v, err)
			}
		}
	}
	envDuration := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if err := dst.Set(v); err != nil {
				log.Printf("Config: invalid %s=%q: %v", key, v, err)
			}
		}
	}

	if v := envStr("DB"); v != "" {
		cfg.DB = v
	}
	if v, ok := envBool("DEV"); ok {
		cfg.Dev = v
	}
	if v := envStr("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := envStr("LOG_OUTPUT_DIR"); v != "" {
		cfg.LogOutputDir = v
	}
	if v, ok := envBool("LOG_REQUESTS"); ok {
		cfg.LogRequests = v
	}
	if v, ok := envBool("LOG_EVENTS"); ok {
		cfg.LogEvents = v
	}
	if v, ok := envBool("LOG_WS"); ok {
		cfg.LogWS = v
	}
	if v, ok := envBool("LOG_DEBUG"); ok {
		cfg.LogDebug = v
	}
	if v := envStr("AGENT_PROVIDER"); v != "" {
		cfg.AgentProvider = v
	}
	if v := envStr("AGENT_MODEL"); v != "" {
		cfg.AgentModel = v
	}
	if v := envStr("AGENT_OLLAMA_URL"); v != "" {
		cfg.AgentOllamaURL = v
	}
	if v := envStr("AGENT_URL"); v != "" {
		cfg.AgentURL = v
	}
	if v := envStr("AGENT_API_KEY"); v != "" {
		cfg.AgentAPIKey = v
	}
	if v := envStr("AGENT_TEMPERATURE"); v != "" {
		cfg.AgentTemperature = v
	}
	if v := envStr("AGENT_THINKING"); v != "" {
		cfg.AgentThinking = v
	}
	if v := envStr("GROQ_API_KEY"); v != "" {
		cfg.GroqAPIKey = v
	}
	envInt("DEFAULT_PLAYERS", &cfg.DefaultPlayers)
	envInt("MAX_ROUNDS", &cfg.MaxRounds)
	envDuration("NIGHT_WINDOW", &cfg.NightWindow)
	envDuration("SPEECH_WINDOW", &cfg.SpeechWindow)
	envDuration("VOTE_WINDOW", &cfg.VoteWindow)
	envDuration("DECISION_TIMEOUT", &cfg.DecisionTimeout)
	envDuration("PACING", &cfg.Pacing)
	if v := envStr("SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = n
		} else {
			log.Printf("Config: invalid SEED=%q: %v", v, err)
		}
	}

	// Layer 2: JSON config file; only keys present in the file override env vars
	if data, err := os.ReadFile(configPath); err == nil {
		var overlay map[string]json.RawMessage
		if err := json.Unmarshal(data, &overlay); err != nil {
			log.Printf("Config: failed to parse %s: %v", configPath, err)
		} else {
			applyJSONOverlay(&cfg, overlay)
			log.Printf("Config: loaded from %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Config: failed to read %s: %v", configPath, err)
	}

	return cfg
}

// applyJSONOverlay only sets fields that are explicitly present in the JSON map.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) {
	set := func(key string, dst any) {
		if v, ok := m[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				log.Printf("Config: invalid %s: %v", key, err)
			}
		}
	}
	set("db", &cfg.DB)
	set("dev", &cfg.Dev)
	set("addr", &cfg.Addr)
	set("log_output_dir", &cfg.LogOutputDir)
	set("log_requests", &cfg.LogRequests)
	set("log_events", &cfg.LogEvents)
	set("log_ws", &cfg.LogWS)
	set("log_debug", &cfg.LogDebug)
	set("agent_provider", &cfg.AgentProvider)
	set("agent_model", &cfg.AgentModel)
	set("agent_ollama_url", &cfg.AgentOllamaURL)
	set("agent_url", &cfg.AgentURL)
	set("agent_api_key", &cfg.AgentAPIKey)
	set("agent_temperature", &cfg.AgentTemperature)
	set("agent_thinking", &cfg.AgentThinking)
	set("groq_api_key", &cfg.GroqAPIKey)
	set("default_players", &cfg.DefaultPlayers)
	set("max_rounds", &cfg.MaxRounds)
	set("night_window", &cfg.NightWindow)
	set("speech_window", &cfg.SpeechWindow)
	set("vote_window", &cfg.VoteWindow)
	set("decision_timeout", &cfg.DecisionTimeout)
	set("pacing", &cfg.Pacing)
	set("seed", &cfg.Seed)
	set("rate_limit", &cfg.RateLimit)
	set("rate_burst", &cfg.RateBurst)
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	configPath       *string
	db               *string
	dev              *bool
	addr             *string
	logOutputDir     *string
	logRequests      *bool
	logEvents        *bool
	logWS            *bool
	logDebug         *bool
	agentProvider    *string
	agentModel       *string
	agentOllamaURL   *string
	agentURL         *string
	agentAPIKey      *string
	agentTemperature *string
	agentThinking    *string
	groqAPIKey       *string
	defaultPlayers   *int
	maxRounds        *int
	nightWindow      *Duration
	speechWindow     *Duration
	voteWindow       *Duration
	decisionTimeout  *Duration
	pacing           *Duration
	seed             *int64
	rateLimit        *float64
	rateBurst        *int
}

func durationFlag(name, usage string) *Duration {
	d := &Duration{}
	flag.Var(d, name, usage)
	return d
}

// registerFlags registers all CLI flags and returns pointers to their values.
// Call flag.Parse() after this, then applyTo to layer them over the loaded config.
func registerFlags() flagValues {
	return flagValues{
		configPath:       flag.String("config", "config.json", "path to JSON config file"),
		db:               flag.String("db", "", "archive database connection string"),
		dev:              flag.Bool("dev", false, "enable development mode (verbose logging)"),
		addr:             flag.String("addr", "", "HTTP listen address (e.g. :8080)"),
		logOutputDir:     flag.String("log-output-dir", "", "directory for extended log files"),
		logRequests:      flag.Bool("log-requests", false, "log HTTP requests and responses"),
		logEvents:        flag.Bool("log-events", false, "log every session event"),
		logWS:            flag.Bool("log-ws", false, "log WebSocket messages"),
		logDebug:         flag.Bool("log-debug", false, "enable debug logging"),
		agentProvider:    flag.String("agent-provider", "", "agent model provider (offline|ollama|openai|claude|gemini|groq|openai-compatible)"),
		agentModel:       flag.String("agent-model", "", "agent model name"),
		agentOllamaURL:   flag.String("agent-ollama-url", "", "Ollama server URL"),
		agentURL:         flag.String("agent-url", "", "base URL for openai-compatible provider"),
		agentAPIKey:      flag.String("agent-api-key", "", "API key for agent provider"),
		agentTemperature: flag.String("agent-temperature", "", "sampling temperature 0-1"),
		agentThinking:    flag.String("agent-thinking", "", "thinking mode: none|low|medium|high|auto"),
		groqAPIKey:       flag.String("groq-api-key", "", "Groq API key"),
		defaultPlayers:   flag.Int("default-players", 0, "seats when CONFIG omits playerCount (5-12)"),
		maxRounds:        flag.Int("max-rounds", 0, "rounds before the session ends in a draw"),
		nightWindow:      durationFlag("night-window", "time budget for night actions"),
		speechWindow:     durationFlag("speech-window", "time budget for one speech"),
		voteWindow:       durationFlag("vote-window", "time budget for a ballot"),
		decisionTimeout:  durationFlag("decision-timeout", "time budget for one agent decision"),
		pacing:           durationFlag("pacing", "presentation delay between speech events"),
		seed:             flag.Int64("seed", 0, "fixed session seed (0 = random)"),
		rateLimit:        flag.Float64("rate-limit", 0, "inbound messages per second per connection"),
		rateBurst:        flag.Int("rate-burst", 0, "inbound message burst per connection"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv flagValues) applyTo(cfg *AppConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "dev":
			cfg.Dev = *fv.dev
		case "addr":
			cfg.Addr = *fv.addr
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-requests":
			cfg.LogRequests = *fv.logRequests
		case "log-events":
			cfg.LogEvents = *fv.logEvents
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "agent-provider":
			cfg.AgentProvider = *fv.agentProvider
		case "agent-model":
			cfg.AgentModel = *fv.agentModel
		case "agent-ollama-url":
			cfg.AgentOllamaURL = *fv.agentOllamaURL
		case "agent-url":
			cfg.AgentURL = *fv.agentURL
		case "agent-api-key":
			cfg.AgentAPIKey = *fv.agentAPIKey
		case "agent-temperature":
			cfg.AgentTemperature = *fv.agentTemperature
		case "agent-thinking":
			cfg.AgentThinking = *fv.agentThinking
		case "groq-api-key":
			cfg.GroqAPIKey = *fv.groqAPIKey
		case "default-players":
			cfg.DefaultPlayers = *fv.defaultPlayers
		case "max-rounds":
			cfg.MaxRounds = *fv.maxRounds
		case "night-window":
			cfg.NightWindow = *fv.nightWindow
		case "speech-window":
			cfg.SpeechWindow = *fv.speechWindow
		case "vote-window":
			cfg.VoteWindow = *fv.voteWindow
		case "decision-timeout":
			cfg.DecisionTimeout = *fv.decisionTimeout
		case "pacing":
			cfg.Pacing = *fv.pacing
		case "seed":
			cfg.Seed = *fv.seed
		case "rate-limit":
			cfg.RateLimit = *fv.rateLimit
		case "rate-burst":
			cfg.RateBurst = *fv.rateBurst
		}
	})
}
