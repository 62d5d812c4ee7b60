package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Server.Address)
		assert.Equal(t, "sandbox", cfg.PayPal.Mode)
		assert.Equal(t, "CAPTURE", cfg.PayPal.Intent)
		assert.Equal(t, 72*time.Hour, cfg.PayPal.EventTTL)
		assert.Equal(t, 30*time.Second, cfg.PayPal.HTTPTimeout)
		assert.False(t, cfg.Archive.Enabled)
		assert.Equal(t, "json", cfg.Log.Format)
	})

	t.Run("secrets come from the environment", func(t *testing.T) {
		t.Setenv("PAYPAL_CLIENT_ID", "env-client")
		t.Setenv("PAYPAL_CLIENT_SECRET", "env-secret")
		t.Setenv("PAYPAL_WEBHOOK_ID", "WH-ENV")
		t.Setenv("PAYMENTS_JWT_SECRET", "env-jwt")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "env-client", cfg.PayPal.ClientID)
		assert.Equal(t, "env-secret", cfg.PayPal.ClientSecret)
		assert.Equal(t, "WH-ENV", cfg.PayPal.WebhookID)
		assert.Equal(t, "env-jwt", cfg.Auth.JWTSecret)
	})

	t.Run("dsn renders the database settings", func(t *testing.T) {
		db := DatabaseConfig{
			Host: "db.internal", Port: 5432, User: "svc",
			Password: "pw", Database: "payments", SSLMode: "require",
		}
		dsn := db.DSN()
		assert.Contains(t, dsn, "host=db.internal")
		assert.Contains(t, dsn, "dbname=payments")
		assert.Contains(t, dsn, "sslmode=require")
	})
}
