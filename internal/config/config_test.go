package config

import (
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalRequiredConfig provides the database settings every test needs.
func minimalRequiredConfig() map[string]string {
	return map[string]string{
		"BEACON_DB_HOST":     "localhost",
		"BEACON_DB_PORT":     "5432",
		"BEACON_DB_NAME":     "beacon_test",
		"BEACON_DB_USER":     "test_user",
		"BEACON_DB_PASSWORD": "test_pass",
	}
}

func mergeEnvVars(additional map[string]string) map[string]string {
	result := minimalRequiredConfig()
	maps.Copy(result, additional)
	return result
}

// validProductionConfig returns a complete production configuration passing
// every hardening rule.
func validProductionConfig() map[string]string {
	return map[string]string{
		"BEACON_APP_ENV": "production",

		"BEACON_DB_HOST":     "prod-db.example.com",
		"BEACON_DB_PORT":     "5432",
		"BEACON_DB_NAME":     "beacon_prod",
		"BEACON_DB_USER":     "prod_user",
		"BEACON_DB_PASSWORD": "SuperSecure123!",
		"BEACON_DB_SSL_MODE": "require",

		"BEACON_REDIS_HOST":        "prod-redis.example.com",
		"BEACON_REDIS_PORT":        "6379",
		"BEACON_REDIS_PASSWORD":    "RedisSecure123!",
		"BEACON_REDIS_TLS_ENABLED": "true",

		"BEACON_SERVER_API_API_KEY_HASH":  "5dec7e1c36e8ec7f526cfa8ff6dc788daad76f6dd34467662eb47990dca6b55d",
		"BEACON_SERVER_API_TLS_ENABLED":   "true",
		"BEACON_SERVER_API_TLS_CERT_FILE": "/certs/api-cert.pem",
		"BEACON_SERVER_API_TLS_KEY_FILE":  "/certs/api-key.pem",
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		want    func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name:    "Should use defaults when no env vars are set",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "beacon", cfg.App.Name)
				assert.Equal(t, "dev", cfg.App.Version)
				assert.Equal(t, "development", cfg.App.Environment)
				assert.Equal(t, "info", cfg.App.LogLevel)
				assert.Equal(t, "text", cfg.App.LogFormat)
				assert.Equal(t, 30*time.Second, cfg.App.ShutdownTimeout)
				assert.Equal(t, "8080", cfg.Server.API.Port)
				assert.Equal(t, 60*time.Second, cfg.Cache.FlagTTL)
				assert.Equal(t, 120*time.Second, cfg.Cache.ConfigTTL)
				assert.Equal(t, 30*time.Second, cfg.Cache.LockExpiry)
				assert.True(t, cfg.Cache.DistributedEnabled)
			},
			wantErr: false,
		},
		{
			name: "Should load custom environment variables",
			envVars: mergeEnvVars(map[string]string{
				"BEACON_APP_NAME":        "beacon-test",
				"BEACON_APP_ENV":         "staging",
				"BEACON_APP_LOG_FORMAT":  "json",
				"BEACON_APP_ENV_ALIASES": "test:development,qa:staging",
				"BEACON_SERVER_API_PORT": "9191",
				"BEACON_CACHE_FLAG_TTL":  "15s",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "beacon-test", cfg.App.Name)
				assert.Equal(t, "staging", cfg.App.Environment)
				assert.Equal(t, "json", cfg.App.LogFormat)
				assert.Equal(t, map[string]string{"test": "development", "qa": "staging"}, cfg.App.EnvironmentAliases)
				assert.Equal(t, "9191", cfg.Server.API.Port)
				assert.Equal(t, 15*time.Second, cfg.Cache.FlagTTL)
			},
			wantErr: false,
		},
		{
			name: "Should fail validation on invalid environment value",
			envVars: mergeEnvVars(map[string]string{
				"BEACON_APP_ENV": "invalid",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on invalid log level",
			envVars: mergeEnvVars(map[string]string{
				"BEACON_APP_LOG_LEVEL": "trace",
			}),
			wantErr: true,
		},
		{
			name: "Should fail on sub-second cache TTL",
			envVars: mergeEnvVars(map[string]string{
				"BEACON_CACHE_FLAG_TTL": "100ms",
			}),
			wantErr: true,
		},
		{
			name: "Should allow missing redis entirely",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Redis.IsConfigured())
			},
			wantErr: false,
		},
		{
			name:    "Should pass with full production hardening",
			envVars: validProductionConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "production", cfg.App.Environment)
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// t.Setenv prevents parallel execution and cleans up after.
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.want(t, cfg)
		})
	}
}

func TestProductionHardening(t *testing.T) {
	tests := []struct {
		name   string
		mutate map[string]string
	}{
		{"missing API key hash", map[string]string{"BEACON_SERVER_API_API_KEY_HASH": ""}},
		{"malformed API key hash", map[string]string{"BEACON_SERVER_API_API_KEY_HASH": "not-a-hash"}},
		{"TLS disabled", map[string]string{
			"BEACON_SERVER_API_TLS_ENABLED":   "false",
			"BEACON_SERVER_API_TLS_CERT_FILE": "",
			"BEACON_SERVER_API_TLS_KEY_FILE":  "",
		}},
		{"insecure database SSL mode", map[string]string{"BEACON_DB_SSL_MODE": "disable"}},
		{"weak database password", map[string]string{"BEACON_DB_PASSWORD": "short"}},
		{"redis without TLS", map[string]string{"BEACON_REDIS_TLS_ENABLED": "false"}},
		{"redis without password", map[string]string{"BEACON_REDIS_PASSWORD": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envVars := validProductionConfig()
			maps.Copy(envVars, tt.mutate)
			for key, value := range envVars {
				t.Setenv(key, value)
			}

			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestDatabaseConfig(t *testing.T) {
	t.Parallel()

	t.Run("connection string from components", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host: "localhost", Port: "5432", Name: "beacon",
			User: "app", Password: "pw", SSLMode: "prefer",
		}
		assert.Equal(t, "postgres://app:pw@localhost:5432/beacon?sslmode=prefer", cfg.ConnectionString())
	})

	t.Run("URL passthrough", func(t *testing.T) {
		cfg := DatabaseConfig{URL: "postgres://app:pw@db:5432/beacon"}
		assert.Equal(t, "postgres://app:pw@db:5432/beacon", cfg.ConnectionString())
		assert.True(t, cfg.IsConfigured())
	})

	t.Run("URL without database name rejected", func(t *testing.T) {
		cfg := DatabaseConfig{URL: "postgres://app:pw@db:5432/", MaxConns: 10}
		assert.Error(t, cfg.Validate("development"))
	})

	t.Run("min conns above max rejected", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host: "h", Port: "5432", Name: "n", User: "u",
			SSLMode: "prefer", MinConns: 30, MaxConns: 10,
		}
		assert.Error(t, cfg.Validate("development"))
	})
}

func TestRedisConfig(t *testing.T) {
	t.Parallel()

	t.Run("unconfigured is valid outside production", func(t *testing.T) {
		cfg := RedisConfig{PoolSize: 50, MinIdleConns: 10}
		require.NoError(t, cfg.Validate("development"))
		assert.False(t, cfg.IsConfigured())
	})

	t.Run("address prefers URL", func(t *testing.T) {
		cfg := RedisConfig{URL: "redis://cache:6379/2", Host: "ignored", Port: "1"}
		assert.Equal(t, "redis://cache:6379/2", cfg.Address())
	})

	t.Run("invalid URL scheme rejected", func(t *testing.T) {
		cfg := RedisConfig{URL: "http://cache:6379", PoolSize: 1}
		assert.Error(t, cfg.Validate("development"))
	})

	t.Run("min idle above pool size rejected", func(t *testing.T) {
		cfg := RedisConfig{Host: "h", Port: "6379", PoolSize: 5, MinIdleConns: 10}
		assert.Error(t, cfg.Validate("development"))
	})
}
