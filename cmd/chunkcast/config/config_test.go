package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigIsValid(t *testing.T) {
	validKey := "sk-0123456789abcdefghij"

	tcs := []struct {
		name          string
		cfg           Config
		expectedError string
	}{
		{
			name:          "missing InputPath",
			cfg:           Config{},
			expectedError: "InputPath cannot be empty",
		},
		{
			name: "missing BaseURL",
			cfg: Config{
				InputPath: "rec.wav",
			},
			expectedError: "BaseURL cannot be empty",
		},
		{
			name: "invalid BaseURL scheme",
			cfg: Config{
				InputPath: "rec.wav",
				BaseURL:   "ftp://example.com",
			},
			expectedError: "BaseURL parsing failed: invalid scheme \"ftp\"",
		},
		{
			name: "missing APIKey",
			cfg: Config{
				InputPath: "rec.wav",
				BaseURL:   "https://example.com",
			},
			expectedError: "APIKey invalid: credential cannot be empty",
		},
		{
			name: "short APIKey",
			cfg: Config{
				InputPath: "rec.wav",
				BaseURL:   "https://example.com",
				APIKey:    "sk-short",
			},
			expectedError: "APIKey invalid: credential is too short",
		},
		{
			name: "unknown APIKey prefix",
			cfg: Config{
				InputPath: "rec.wav",
				BaseURL:   "https://example.com",
				APIKey:    "xx-0123456789abcdefghij",
			},
			expectedError: "APIKey invalid: credential does not start with a known prefix",
		},
		{
			name: "missing Model",
			cfg: Config{
				InputPath: "rec.wav",
				BaseURL:   "https://example.com",
				APIKey:    validKey,
			},
			expectedError: "Model cannot be empty",
		},
		{
			name: "negative overlap",
			cfg: Config{
				InputPath:            "rec.wav",
				BaseURL:              "https://example.com",
				APIKey:               validKey,
				Model:                ModelDefault,
				ChunkLengthSeconds:   600,
				OverlapSeconds:       -1,
				SilenceWindowSeconds: 30,
				MaxChunkBytes:        1,
				PerRequestTimeoutMs:  1,
				Retry: RetryConfig{
					InitialDelayMs: 1,
					Multiplier:     1,
					MaxDelayMs:     1,
				},
			},
			expectedError: "OverlapSeconds cannot be negative",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.IsValid()
			require.Error(t, err)
			require.Equal(t, tc.expectedError, err.Error())
		})
	}

	t.Run("fully defaulted config is valid", func(t *testing.T) {
		cfg := Config{
			InputPath: "rec.wav",
			BaseURL:   "https://example.com",
			APIKey:    validKey,
		}
		cfg.SetDefaults()
		require.NoError(t, cfg.IsValid())
	})
}

func TestConfigEnvRoundTrip(t *testing.T) {
	cfg := Config{
		InputPath: "rec.wav",
		BaseURL:   "https://example.com",
		APIKey:    "sk-0123456789abcdefghij",
	}
	cfg.SetDefaults()

	for _, kv := range cfg.ToEnv() {
		idx := 0
		for idx < len(kv) && kv[idx] != '=' {
			idx++
		}
		t.Setenv(kv[:idx], kv[idx+1:])
	}

	got, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestValidateCredential(t *testing.T) {
	require.NoError(t, ValidateCredential("sk-0123456789abcdefghij"))
	require.Error(t, ValidateCredential(""))
	require.Error(t, ValidateCredential("sk-short"))
	require.Error(t, ValidateCredential("nope-0123456789abcdefghij"))
}
