package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into an empty directory so no stray podari.yaml or .env is
// picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "podari.sqlite3", cfg.DB)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 7*24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, 256, cfg.NotifyQueueSize)
	assert.Equal(t, 5, cfg.ImageMaxCount)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadPrecedence(t *testing.T) {
	dir := chdir(t)

	file := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
db: from-file.sqlite3
addr: ":9000"
jwt:
  ttl: 2h
kafka:
  brokers: [k1:9092, k2:9092]
cors:
  origins: [https://a.example.com]
`), 0o600))

	t.Setenv("PODARI_ADDR", ":9100")
	t.Setenv("PODARI_ADMIN_EMAIL", "Root@Example.com")

	cfg, err := Load(file, map[string]any{KeyDB: "from-flag.sqlite3"})
	require.NoError(t, err)

	assert.Equal(t, "from-flag.sqlite3", cfg.DB, "flag beats file")
	assert.Equal(t, ":9100", cfg.Addr, "env beats file")
	assert.Equal(t, "root@example.com", cfg.AdminEmail)
	assert.Equal(t, 2*time.Hour, cfg.JWTTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"https://a.example.com"}, cfg.CORSOrigins)
}

func TestLoadDefaultFileAndDotEnv(t *testing.T) {
	dir := chdir(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("log: podari.log\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PODARI_KAFKA_BROKERS=a:9092, b:9092\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PODARI_KAFKA_BROKERS") })

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "podari.log", cfg.Log)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdir(t)

	_, err := Load("does-not-exist.yaml", nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdir(t)

	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"zero ttl", map[string]any{KeyJWTTTL: "0s"}},
		{"queue size", map[string]any{KeyNotifyQueueSize: 0}},
		{"too many images", map[string]any{KeyImageMaxCount: 6}},
		{"kafka without topic", map[string]any{KeyKafkaBrokers: "k:9092", KeyKafkaTopic: ""}},
		{"empty db", map[string]any{KeyDB: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", tt.overrides)
			assert.Error(t, err)
		})
	}
}
