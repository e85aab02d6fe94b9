package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("WEBHOOK_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "payloadHash", cfg.Webhook.SignatureParam)
	assert.Equal(t, 16, cfg.Pipeline.Workers)
	assert.Equal(t, 1024, cfg.Pipeline.QueueSize)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.EligibilityTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Reservation.TTL)
	assert.Equal(t, 30*time.Second, cfg.Reservation.Grace)
	assert.False(t, cfg.AllowList.UsesMySQL())
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero workers", map[string]string{"PIPELINE_WORKERS": "0"}},
		{"required signature without secret", map[string]string{"WEBHOOK_REQUIRE_SIGNATURE": "true", "WEBHOOK_SECRET": ""}},
		{"unknown store", map[string]string{"STORE_TYPE": "cassandra"}},
		{"negative queue", map[string]string{"PIPELINE_QUEUE_SIZE": "-1"}},
		{"production without secret", map[string]string{"APP_ENV": "production", "WEBHOOK_SECRET": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadNormalizesBackendNames(t *testing.T) {
	tests := []struct {
		storeType string
		want      string
	}{
		{"Postgres", "postgres"},
		{"POSTGRESQL", "postgres"},
		{" SQLite ", "sqlite"},
	}

	for _, tt := range tests {
		t.Run(tt.storeType, func(t *testing.T) {
			t.Setenv("APP_ENV", "Development")
			t.Setenv("STORE_TYPE", tt.storeType)
			t.Setenv("CACHE_TYPE", "Redis")

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Store.Type)
			assert.Equal(t, "redis", cfg.Cache.Type)
			assert.True(t, cfg.App.IsDevelopment())
		})
	}
}

func TestDSNHelpers(t *testing.T) {
	store := StoreConfig{User: "u", Password: "p", Host: "db", Port: 5432, Name: "s", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/s?sslmode=disable", store.PostgresDSN())

	allow := AllowListConfig{Enabled: true, Source: "MySQL", User: "root", Host: "mysql", Port: 3306, Name: "campaigns"}
	assert.True(t, allow.UsesMySQL())
	assert.Equal(t, "root:@tcp(mysql:3306)/campaigns?parseTime=true", allow.DSN())
}
