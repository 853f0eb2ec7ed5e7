package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "MODEL_WEIGHT", "0")
	setEnv(t, "MODEL_SERVICE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultReviewThreshold, cfg.ReviewThreshold)
	assert.Equal(t, DefaultBlockThreshold, cfg.BlockThreshold)
	assert.False(t, cfg.MLEnabled())
}

func TestLoad_ModelWeightRequiresURL(t *testing.T) {
	setEnv(t, "MODEL_WEIGHT", "0.5")
	setEnv(t, "MODEL_SERVICE_URL", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MODEL_SERVICE_URL is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "valid config",
			config:  Config{ReviewThreshold: 30, BlockThreshold: 60, ModelWeight: 0},
			wantErr: "",
		},
		{
			name:    "review above block",
			config:  Config{ReviewThreshold: 70, BlockThreshold: 60},
			wantErr: "REVIEW_THRESHOLD must be less than BLOCK_THRESHOLD",
		},
		{
			name:    "threshold out of range",
			config:  Config{ReviewThreshold: -1, BlockThreshold: 60},
			wantErr: "must fall within",
		},
		{
			name:    "model weight without url",
			config:  Config{ReviewThreshold: 30, BlockThreshold: 60, ModelWeight: 0.5},
			wantErr: "MODEL_SERVICE_URL is required",
		},
		{
			name:    "negative rule weight",
			config:  Config{ReviewThreshold: 30, BlockThreshold: 60, RuleWeight: -0.1},
			wantErr: "RULE_WEIGHT must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99))
}

func TestGetEnvFloat(t *testing.T) {
	setEnv(t, "TEST_FLOAT", "0.7")
	assert.Equal(t, 0.7, getEnvFloat("TEST_FLOAT", 0))
	assert.Equal(t, 1.5, getEnvFloat("MISSING_FLOAT", 1.5))
}

func TestGetEnvBool(t *testing.T) {
	setEnv(t, "TEST_BOOL", "false")
	assert.False(t, getEnvBool("TEST_BOOL", true))
	assert.True(t, getEnvBool("MISSING_BOOL", true))
}

func TestLoadRuleOverrides_MissingPathIsZeroValue(t *testing.T) {
	out, err := LoadRuleOverrides("")
	require.NoError(t, err)
	assert.Equal(t, 0, out.BurstCount)
}
