package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("api")
	require.NoError(t, err)

	assert.Equal(t, "api", cfg.RunMode)
	assert.Equal(t, "usd", cfg.PaymentCurrency)
	assert.Equal(t, int64(50), cfg.PaymentMinMinor)
	assert.Equal(t, int64(99999999), cfg.PaymentMaxMinor)
	assert.Equal(t, time.Duration(0), cfg.ReservationTTL)
	assert.Equal(t, 24*time.Hour, cfg.WebhookIdempotencyTTL)
	assert.Equal(t, 1000, cfg.OfferMessageMaxLength)
	assert.Equal(t, time.Hour, cfg.JwtTTL)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("MONGO_URI", "")
	t.Setenv("JWT_SECRET", "x")

	_, err := Load("api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URI")
}

func TestLoadReservationTTL(t *testing.T) {
	setRequired(t)
	t.Setenv("RESERVATION_TTL_SECONDS", "900")

	cfg, err := Load("all")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.ReservationTTL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"RESERVATION_TTL_SECONDS": "-1",
		"PAYMENT_MIN_MINOR":       "abc",
		"REDIS_DB":                "zero",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, value)
			_, err := Load("api")
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsInvertedPaymentBounds(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMENT_MIN_MINOR", "1000")
	t.Setenv("PAYMENT_MAX_MINOR", "10")

	_, err := Load("api")
	assert.Error(t, err)
}
