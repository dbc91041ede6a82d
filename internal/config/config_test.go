package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTokens(t *testing.T) {
	t.Setenv("DEV_TELEGRAM_TOKEN", "dev-token")
	t.Setenv("FARMER_TELEGRAM_TOKEN", "farmer-token")
}

func TestLoad_Defaults(t *testing.T) {
	setTokens(t)
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.MainInterval)
	assert.Equal(t, 15*time.Minute, cfg.DiscoveryInterval)
	assert.Equal(t, 15, cfg.ForwardWindow)
	assert.Equal(t, 25, cfg.BackwardWindow)
	assert.Equal(t, 3*time.Second, cfg.DispatchSpacing)
	assert.Equal(t, 16*time.Second, cfg.DispatchRetryFallback)
	assert.Equal(t, "dev-token", cfg.TelegramToken)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.HistoryEnabled())
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoad_ProductionCredentials(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PROD_TELEGRAM_TOKEN", "prod-token")
	t.Setenv("PROD_CHANNEL_ID", "-100")
	t.Setenv("FARMER_TELEGRAM_TOKEN", "farmer-token")
	t.Setenv("PROD_YO_TOKEN", "yo")
	t.Setenv("PROD_YO_CHANNEL_ID", "chan")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prod-token", cfg.TelegramToken)
	assert.Equal(t, "-100", cfg.TelegramChannelID)
	assert.True(t, cfg.YoEnabled())
	assert.False(t, cfg.Debug)
}

func TestLoad_MissingTokens(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DEV_TELEGRAM_TOKEN", "")
	t.Setenv("FARMER_TELEGRAM_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingCredential))

	cfg, err := LoadTools()
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.PartnerID)
}

func TestLoad_IntervalsAcceptMilliseconds(t *testing.T) {
	setTokens(t)
	t.Setenv("MAIN_INTERVAL", "120000")
	t.Setenv("DISCOVERY_INTERVAL", "20m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.MainInterval)
	assert.Equal(t, 20*time.Minute, cfg.DiscoveryInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("18:05")
	require.NoError(t, err)
	assert.Equal(t, 18, h)
	assert.Equal(t, 5, m)

	for _, bad := range []string{"", "18", "25:00", "10:61", "aa:bb"} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}
