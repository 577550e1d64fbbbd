package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "memory")

	var cfg Config
	require.NoError(t, Load(&cfg))
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.False(t, cfg.AuthRequired)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "/tmp/swap.db")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("STORE_TIMEOUT", "250ms")

	var cfg Config
	require.NoError(t, Load(&cfg))
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{DatabaseDriver: DriverMemory, StoreTimeout: time.Second}, false},
		{"postgres without url", Config{DatabaseDriver: DriverPostgres, StoreTimeout: time.Second}, true},
		{"sqlite with path", Config{DatabaseDriver: DriverSQLite, DatabaseURL: "swap.db", StoreTimeout: time.Second}, false},
		{"unknown driver", Config{DatabaseDriver: "mysql", DatabaseURL: "x", StoreTimeout: time.Second}, true},
		{"auth without secret", Config{DatabaseDriver: DriverMemory, AuthRequired: true, StoreTimeout: time.Second}, true},
		{"auth with secret", Config{DatabaseDriver: DriverMemory, AuthRequired: true, JWTSecret: "s", StoreTimeout: time.Second}, false},
		{"zero timeout", Config{DatabaseDriver: DriverMemory}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
