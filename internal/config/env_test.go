package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		StoreDriver:      "memory",
		AIBackend:        "test",
		JWTSecret:        "secret",
		IngestWorkers:    2,
		ContextMaxTokens: 3000,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad backend", func(c *Config) { c.AIBackend = "openai" }, "AI_BACKEND"},
		{"bad store", func(c *Config) { c.StoreDriver = "mysql" }, "STORE_DRIVER"},
		{"postgres without url", func(c *Config) { c.StoreDriver = "postgres" }, "DATABASE_URL"},
		{"sqlite without path", func(c *Config) { c.StoreDriver = "sqlite" }, "SQLITE_PATH"},
		{"no jwt secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"zero context budget", func(c *Config) { c.ContextMaxTokens = 0 }, "CONTEXT_MAX_TOKENS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(c)
			err := c.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidate_ClampsWorkers(t *testing.T) {
	c := validConfig()
	c.IngestWorkers = 0
	require.NoError(t, c.Validate())
	assert.Equal(t, 1, c.IngestWorkers)
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("KB_TEST_INT", "42")
	assert.Equal(t, 42, getEnvInt("KB_TEST_INT", 7))

	t.Setenv("KB_TEST_INT", "forty-two")
	assert.Equal(t, 7, getEnvInt("KB_TEST_INT", 7))

	assert.Equal(t, 7, getEnvInt("KB_TEST_INT_UNSET", 7))
}

func TestUseObjectStorage(t *testing.T) {
	c := validConfig()
	assert.False(t, c.UseObjectStorage())
	c.AwsAccessKey, c.AwsSecretKey, c.BucketName = "a", "b", "bucket"
	assert.True(t, c.UseObjectStorage())
}
