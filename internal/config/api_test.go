package config

import (
	"maps"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testKeyHash = "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"

func apiEnv(additional map[string]string) map[string]string {
	result := map[string]string{"BEACON_API_ENABLED": "true"}
	maps.Copy(result, additional)
	return result
}

func TestAPIConfig_Validation(t *testing.T) {
	runLoadTests(t, []loadTest{
		{
			name:    "Should apply defaults when enabled",
			envVars: apiEnv(nil),
			want: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.API.Enabled)
				assert.Equal(t, "127.0.0.1:8080", cfg.API.Addr())
				assert.Equal(t, 10*time.Second, cfg.API.ReadTimeout)
				assert.Equal(t, 524288, cfg.API.MaxHeaderBytes)
				assert.Empty(t, cfg.API.APIKeyHash)
			},
		},
		{
			name:    "Should ignore invalid settings when disabled",
			envVars: map[string]string{"BEACON_API_PORT": "not-a-port"},
			want: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.API.Enabled)
			},
		},
		{
			name:    "Should fail with invalid port",
			envVars: apiEnv(map[string]string{"BEACON_API_PORT": "70000"}),
			wantErr: true,
		},
		{
			name:    "Should fail with malformed key hash",
			envVars: apiEnv(map[string]string{"BEACON_API_API_KEY_HASH": "abc"}),
			wantErr: true,
		},
		{
			name:    "Should fail with non hex key hash",
			envVars: apiEnv(map[string]string{"BEACON_API_API_KEY_HASH": strings.Repeat("z", 64)}),
			wantErr: true,
		},
		{
			name: "Should fail when TLS is enabled without files",
			envVars: apiEnv(map[string]string{
				"BEACON_API_TLS_ENABLED": "true",
			}),
			wantErr: true,
		},
		{
			name: "Should require a key hash in production",
			envVars: mergeEnvVars(apiEnv(map[string]string{
				"BEACON_APP_ENV":           "production",
				"BEACON_REDIS_PASSWORD":    "RedisSecure123!",
				"BEACON_REDIS_TLS_ENABLED": "true",
			})),
			wantErr: true,
		},
		{
			name: "Should allow plain HTTP on loopback in production",
			envVars: mergeEnvVars(apiEnv(map[string]string{
				"BEACON_APP_ENV":           "production",
				"BEACON_REDIS_PASSWORD":    "RedisSecure123!",
				"BEACON_REDIS_TLS_ENABLED": "true",
				"BEACON_API_API_KEY_HASH":  testKeyHash,
			})),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, testKeyHash, cfg.API.APIKeyHash)
				assert.False(t, cfg.API.TLSEnabled)
			},
		},
		{
			name: "Should require TLS in production on a public interface",
			envVars: mergeEnvVars(apiEnv(map[string]string{
				"BEACON_APP_ENV":           "production",
				"BEACON_REDIS_PASSWORD":    "RedisSecure123!",
				"BEACON_REDIS_TLS_ENABLED": "true",
				"BEACON_API_API_KEY_HASH":  testKeyHash,
				"BEACON_API_HOST":          "0.0.0.0",
			})),
			wantErr: true,
		},
	})
}
