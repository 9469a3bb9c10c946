package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, defaultPort, cfg.HTTP.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Channel.Driver)
	assert.Equal(t, "mock", cfg.Gateway.Provider)
	assert.InDelta(t, 0.90, cfg.Gateway.ApprovalRate, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.InDelta(t, 0.85, cfg.Risk.Threshold, 1e-9)
	assert.Equal(t, time.Hour, cfg.Risk.VelocityWindow)
	assert.Equal(t, 2*time.Second, cfg.Generator.Interval)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MOCK_APPROVAL_RATE", "1.7")
	t.Setenv("VELOCITY_WINDOW_MINUTES", "15")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("CHANNEL_DRIVER", "kafka")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 1.0, cfg.Gateway.ApprovalRate)
	assert.Equal(t, 15*time.Minute, cfg.Risk.VelocityWindow)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Channel.Brokers)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"bad port":         {"SERVER_PORT", "70000"},
		"bad duration":     {"GATEWAY_TIMEOUT", "soon"},
		"bad window":       {"VELOCITY_WINDOW_MINUTES", "-1"},
		"unknown store":    {"STORE_DRIVER", "mongo"},
		"postgres no url":  {"STORE_DRIVER", "postgres"},
		"unknown gateway":  {"PAYMENT_GATEWAY", "bitcoin"},
		"kafka no brokers": {"CHANNEL_DRIVER", "kafka"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoad_PayPalEnvironment(t *testing.T) {
	t.Setenv("PAYMENT_GATEWAY", "paypal")
	t.Setenv("PAYPAL_CLIENT_ID", "client")
	t.Setenv("PAYPAL_CLIENT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "paypal", cfg.Gateway.Provider)
	assert.Equal(t, defaultPayPalSandboxURL, cfg.Gateway.PayPalBaseURL)

	t.Setenv("PAYPAL_ENVIRONMENT", "production")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, defaultPayPalLiveURL, cfg.Gateway.PayPalBaseURL)
}
