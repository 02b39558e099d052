package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 1000, cfg.Orders.CodeMin)
	assert.Equal(t, 9999, cfg.Orders.CodeMax)
	assert.Equal(t, "order-events", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.VNPay.Enabled)
	assert.Equal(t, "captureWallet", cfg.MoMo.RequestType)
	assert.Equal(t, uint32(5), cfg.Provider.CallerConfig().BreakerThreshold)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STORE", "memory")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("ORDERS_CODE_MAX", "1999")
	t.Setenv("VNPAY_ENABLED", "true")
	t.Setenv("VNPAY_TMN_CODE", "TESTTMN1")
	t.Setenv("VNPAY_HASH_SECRET", "VNPAYSECRETKEY")
	t.Setenv("VNPAY_RETURN_URL", "https://shop.example/payment/return")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 1999, cfg.Orders.CodeMax)
	assert.True(t, cfg.VNPay.Enabled)
	assert.Equal(t, "TESTTMN1", cfg.VNPay.TmnCode)
	assert.Equal(t, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html", cfg.VNPay.PayURL)
}

func TestLoad_EnabledProviderWithoutCredentials(t *testing.T) {
	t.Setenv("MOMO_ENABLED", "true")
	t.Setenv("MOMO_PARTNER_CODE", "MOMOTEST")

	_, err := Load("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "momo.access_key")
	assert.Contains(t, err.Error(), "momo.ipn_url")
	assert.NotContains(t, err.Error(), "momo.partner_code")
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("ORDERS_CODE_MIN", "5000")
	t.Setenv("ORDERS_CODE_MAX", "4000")

	_, err := Load("")
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: memory
log_level: debug
redis:
  addr: localhost:6379
orders:
  code_min: 100000
  code_max: 999999
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 100000, cfg.Orders.CodeMin)
	assert.Equal(t, 999999, cfg.Orders.CodeMax)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
