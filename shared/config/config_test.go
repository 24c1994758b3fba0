package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name string, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o600))
}

func TestMustLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "public.yaml", `
port: 8080
log_level: debug
jwt_ttl: 86400
backfill_limit: 50
broker:
  variant: changefeed
  connect_timeout: 5
  poll_interval: 3
retention:
  soft_delete_after: 30
  hard_delete_after: 60
  sweep_interval: 300
  sweep_batch_size: 500
`)
	writeConfig(t, dir, "private.yaml", `
jwt_key: "k"
identity_salt: "s"
pg:
  host: localhost
  port: 5432
  user: u
  password: p
  dbname: basement
kafka:
  brokers: ["localhost:9092"]
  topic: basement-messages
redis:
  addr: localhost:6379
  ttl: 60
`)

	cfg := MustLoad(dir)

	assert.Equal(t, 8080, cfg.Public.Port)
	assert.Equal(t, "changefeed", cfg.Public.Broker.Variant)
	assert.Equal(t, time.Duration(30), cfg.Public.Retention.SoftDeleteAfter)
	assert.Equal(t, 24*time.Hour, cfg.JwtTTL())
	assert.Equal(t, "k", cfg.JwtKey())
	assert.Equal(t, "s", cfg.Private.IdentitySalt)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Private.Kafka.Brokers)
	assert.Equal(t, "localhost:6379", cfg.Private.Redis.Addr)
}

func TestMustLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "public.yaml", "port: 8080\n")
	// private.yaml intentionally missing

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic for missing private.yaml, got none")
		}
	}()

	_ = MustLoad(dir)
}
