package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// defaults, per the configuration surface.
const (
	ChunkLengthSecondsDefault   = 600
	OverlapSecondsDefault       = 10
	SilenceWindowSecondsDefault = 30
	RMSThresholdDefault         = 0.01
	MinSilenceDurationMsDefault = 300
	MaxChunkBytesDefault        = 25 * 1024 * 1024
	PerRequestTimeoutMsDefault  = 120000
	RetryMaxAttemptsDefault     = 5
	RetryInitialDelayMsDefault  = 1000
	RetryMultiplierDefault      = 2
	RetryMaxDelayMsDefault      = 60000
	InterChunkDelayMsDefault    = 500
	ModelDefault                = "whisper-large-v3"
)

// RetryConfig is the backoff shape for the Dispatcher's per-chunk retry loop.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelayMs int
	Multiplier     float64
	MaxDelayMs     int
}

// Config is the flat tunable record consumed by the pipeline, with the
// usual SetDefaults/IsValid/ToEnv/FromEnv shape for loading from and
// round-tripping through the environment.
type Config struct {
	// input
	InputPath string
	BaseURL   string
	APIKey    string
	Model     string
	Language  string

	// planning
	ChunkLengthSeconds   float64
	OverlapSeconds       float64
	SilenceWindowSeconds float64
	RMSThreshold         float64
	MinSilenceDurationMs float64

	// extraction / dispatch
	MaxChunkBytes       int64
	PerRequestTimeoutMs int
	InterChunkDelayMs   int

	Retry RetryConfig
}

func (cfg Config) IsValid() error {
	if cfg.InputPath == "" {
		return fmt.Errorf("InputPath cannot be empty")
	}
	if cfg.BaseURL == "" {
		return fmt.Errorf("BaseURL cannot be empty")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("BaseURL parsing failed: %w", err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("BaseURL parsing failed: invalid scheme %q", u.Scheme)
	}
	if err := ValidateCredential(cfg.APIKey); err != nil {
		return fmt.Errorf("APIKey invalid: %w", err)
	}
	if cfg.Model == "" {
		return fmt.Errorf("Model cannot be empty")
	}
	if cfg.ChunkLengthSeconds <= 0 {
		return fmt.Errorf("ChunkLengthSeconds must be positive")
	}
	if cfg.OverlapSeconds < 0 {
		return fmt.Errorf("OverlapSeconds cannot be negative")
	}
	if cfg.SilenceWindowSeconds <= 0 {
		return fmt.Errorf("SilenceWindowSeconds must be positive")
	}
	if cfg.MinSilenceDurationMs < 0 {
		return fmt.Errorf("MinSilenceDurationMs cannot be negative")
	}
	if cfg.MaxChunkBytes <= 0 {
		return fmt.Errorf("MaxChunkBytes must be positive")
	}
	if cfg.PerRequestTimeoutMs <= 0 {
		return fmt.Errorf("PerRequestTimeoutMs must be positive")
	}
	if cfg.InterChunkDelayMs < 0 {
		return fmt.Errorf("InterChunkDelayMs cannot be negative")
	}
	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("Retry.MaxAttempts cannot be negative")
	}
	if cfg.Retry.InitialDelayMs <= 0 {
		return fmt.Errorf("Retry.InitialDelayMs must be positive")
	}
	if cfg.Retry.Multiplier < 1 {
		return fmt.Errorf("Retry.Multiplier must be at least 1")
	}
	if cfg.Retry.MaxDelayMs < cfg.Retry.InitialDelayMs {
		return fmt.Errorf("Retry.MaxDelayMs cannot be smaller than Retry.InitialDelayMs")
	}
	return nil
}

func (cfg *Config) SetDefaults() {
	if cfg.Model == "" {
		cfg.Model = ModelDefault
	}
	if cfg.ChunkLengthSeconds == 0 {
		cfg.ChunkLengthSeconds = ChunkLengthSecondsDefault
	}
	if cfg.OverlapSeconds == 0 {
		cfg.OverlapSeconds = OverlapSecondsDefault
	}
	if cfg.SilenceWindowSeconds == 0 {
		cfg.SilenceWindowSeconds = SilenceWindowSecondsDefault
	}
	if cfg.RMSThreshold == 0 {
		cfg.RMSThreshold = RMSThresholdDefault
	}
	if cfg.MinSilenceDurationMs == 0 {
		cfg.MinSilenceDurationMs = MinSilenceDurationMsDefault
	}
	if cfg.MaxChunkBytes == 0 {
		cfg.MaxChunkBytes = MaxChunkBytesDefault
	}
	if cfg.PerRequestTimeoutMs == 0 {
		cfg.PerRequestTimeoutMs = PerRequestTimeoutMsDefault
	}
	if cfg.InterChunkDelayMs == 0 {
		cfg.InterChunkDelayMs = InterChunkDelayMsDefault
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = RetryMaxAttemptsDefault
	}
	if cfg.Retry.InitialDelayMs == 0 {
		cfg.Retry.InitialDelayMs = RetryInitialDelayMsDefault
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = RetryMultiplierDefault
	}
	if cfg.Retry.MaxDelayMs == 0 {
		cfg.Retry.MaxDelayMs = RetryMaxDelayMsDefault
	}
}

func (cfg Config) ToEnv() []string {
	return []string{
		fmt.Sprintf("CHUNKCAST_INPUT_PATH=%s", cfg.InputPath),
		fmt.Sprintf("CHUNKCAST_BASE_URL=%s", cfg.BaseURL),
		fmt.Sprintf("CHUNKCAST_API_KEY=%s", cfg.APIKey),
		fmt.Sprintf("CHUNKCAST_MODEL=%s", cfg.Model),
		fmt.Sprintf("CHUNKCAST_LANGUAGE=%s", cfg.Language),
		fmt.Sprintf("CHUNKCAST_CHUNK_LENGTH_SECONDS=%g", cfg.ChunkLengthSeconds),
		fmt.Sprintf("CHUNKCAST_OVERLAP_SECONDS=%g", cfg.OverlapSeconds),
		fmt.Sprintf("CHUNKCAST_SILENCE_WINDOW_SECONDS=%g", cfg.SilenceWindowSeconds),
		fmt.Sprintf("CHUNKCAST_RMS_THRESHOLD=%g", cfg.RMSThreshold),
		fmt.Sprintf("CHUNKCAST_MIN_SILENCE_DURATION_MS=%g", cfg.MinSilenceDurationMs),
		fmt.Sprintf("CHUNKCAST_MAX_CHUNK_BYTES=%d", cfg.MaxChunkBytes),
		fmt.Sprintf("CHUNKCAST_PER_REQUEST_TIMEOUT_MS=%d", cfg.PerRequestTimeoutMs),
		fmt.Sprintf("CHUNKCAST_INTER_CHUNK_DELAY_MS=%d", cfg.InterChunkDelayMs),
		fmt.Sprintf("CHUNKCAST_RETRY_MAX_ATTEMPTS=%d", cfg.Retry.MaxAttempts),
		fmt.Sprintf("CHUNKCAST_RETRY_INITIAL_DELAY_MS=%d", cfg.Retry.InitialDelayMs),
		fmt.Sprintf("CHUNKCAST_RETRY_MULTIPLIER=%g", cfg.Retry.Multiplier),
		fmt.Sprintf("CHUNKCAST_RETRY_MAX_DELAY_MS=%d", cfg.Retry.MaxDelayMs),
	}
}

func FromEnv() (Config, error) {
	var cfg Config
	cfg.InputPath = os.Getenv("CHUNKCAST_INPUT_PATH")
	cfg.BaseURL = os.Getenv("CHUNKCAST_BASE_URL")
	cfg.APIKey = os.Getenv("CHUNKCAST_API_KEY")
	cfg.Model = os.Getenv("CHUNKCAST_MODEL")
	cfg.Language = os.Getenv("CHUNKCAST_LANGUAGE")

	cfg.ChunkLengthSeconds, _ = strconv.ParseFloat(os.Getenv("CHUNKCAST_CHUNK_LENGTH_SECONDS"), 64)
	cfg.OverlapSeconds, _ = strconv.ParseFloat(os.Getenv("CHUNKCAST_OVERLAP_SECONDS"), 64)
	cfg.SilenceWindowSeconds, _ = strconv.ParseFloat(os.Getenv("CHUNKCAST_SILENCE_WINDOW_SECONDS"), 64)
	cfg.RMSThreshold, _ = strconv.ParseFloat(os.Getenv("CHUNKCAST_RMS_THRESHOLD"), 64)
	cfg.MinSilenceDurationMs, _ = strconv.ParseFloat(os.Getenv("CHUNKCAST_MIN_SILENCE_DURATION_MS"), 64)

	cfg.MaxChunkBytes, _ = strconv.ParseInt(os.Getenv("CHUNKCAST_MAX_CHUNK_BYTES"), 10, 64)
	cfg.PerRequestTimeoutMs, _ = strconv.Atoi(os.Getenv("CHUNKCAST_PER_REQUEST_TIMEOUT_MS"))
	cfg.InterChunkDelayMs, _ = strconv.Atoi(os.Getenv("CHUNKCAST_INTER_CHUNK_DELAY_MS"))

	cfg.Retry.MaxAttempts, _ = strconv.Atoi(os.Getenv("CHUNKCAST_RETRY_MAX_ATTEMPTS"))
	cfg.Retry.InitialDelayMs, _ = strconv.Atoi(os.Getenv("CHUNKCAST_RETRY_INITIAL_DELAY_MS"))
	cfg.Retry.Multiplier, _ = strconv.ParseFloat(os.Getenv("CHUNKCAST_RETRY_MULTIPLIER"), 64)
	cfg.Retry.MaxDelayMs, _ = strconv.Atoi(os.Getenv("CHUNKCAST_RETRY_MAX_DELAY_MS"))

	return cfg, nil
}

// ValidateCredential performs the advisory boundary check from the
// credential format contract: non-empty, known prefix, minimum length.
// The authoritative check remains the service's own response.
func ValidateCredential(key string) error {
	if key == "" {
		return fmt.Errorf("credential cannot be empty")
	}
	if len(key) < 20 {
		return fmt.Errorf("credential is too short")
	}
	if !hasKnownPrefix(key) {
		return fmt.Errorf("credential does not start with a known prefix")
	}
	return nil
}

var knownCredentialPrefixes = []string{"sk-", "cc-"}

func hasKnownPrefix(key string) bool {
	for _, p := range knownCredentialPrefixes {
		if len(key) >= len(p) && key[:len(p)] == p {
			return true
		}
	}
	return false
}
