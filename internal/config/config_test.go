package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvWithDefault(t *testing.T) {
	const key = "TEST_APP_PORT"

	// 环境变量未设置时，应该返回默认值
	_ = os.Unsetenv(key)
	if got := getEnv(key, "9000"); got != "9000" {
		t.Fatalf("getEnv(%q) = %q, want %q", key, got, "9000")
	}

	// 环境变量设置后，应优先返回环境变量
	t.Setenv(key, "8080")
	if got := getEnv(key, "9000"); got != "8080" {
		t.Fatalf("getEnv(%q) = %q, want %q", key, got, "8080")
	}
}

func TestLoadReadsAuthAndPorts(t *testing.T) {
	t.Setenv("APP_PORT", "1234")
	t.Setenv("APP_BASIC_USER", "user")
	t.Setenv("APP_BASIC_PASS", "pass")

	cfg := Load()
	assert.Equal(t, "1234", cfg.AppPort)
	assert.Equal(t, "user", cfg.BasicAuthUser)
	assert.Equal(t, "pass", cfg.BasicAuthPass)
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0 * * * *", cfg.Scheduler.CronSpec)
	assert.Equal(t, 10, cfg.Scheduler.DigestItemLimit)
	assert.Equal(t, 7*24*time.Hour, cfg.Scheduler.WelcomeWindow)
	assert.Equal(t, EmailModeMock, cfg.Email.Mode)
	assert.Equal(t, []string{"google", "hackernews"}, cfg.News.Sources)
	require.NoError(t, cfg.Validate())
}

func TestLoadTypedEnvOverrides(t *testing.T) {
	t.Setenv("TICK_CONCURRENCY", "4")
	t.Setenv("FETCH_TIMEOUT", "3s")
	t.Setenv("FETCH_RATE_PER_SEC", "2.5")
	t.Setenv("NEWS_SOURCES", " Bing, google ,,")
	t.Setenv("EMAIL_MAX_ATTEMPTS", "not-a-number")

	cfg := Load()
	assert.Equal(t, 4, cfg.Scheduler.TickConcurrency)
	assert.Equal(t, 3*time.Second, cfg.News.FetchTimeout)
	assert.InDelta(t, 2.5, cfg.News.RatePerSecond, 0.0001)
	assert.Equal(t, []string{"bing", "google"}, cfg.News.Sources)
	// 非法值回退到默认
	assert.Equal(t, 3, cfg.Email.MaxAttempts)
}

func TestLoadYAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topicdigest.yaml")
	content := `
appPort: "7000"
database:
  driver: sqlite
  sqlitePath: /tmp/x.db
scheduler:
  cronSpec: "*/5 * * * *"
  welcomeWindow: 48h
email:
  mode: smtp
  smtpHost: mail.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv(configPathEnv, path)
	t.Setenv("APP_PORT", "7001")

	cfg := Load()
	assert.Equal(t, "7001", cfg.AppPort, "env wins over file")
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Database.SQLitePath)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.CronSpec)
	assert.Equal(t, 48*time.Hour, cfg.Scheduler.WelcomeWindow)
	// 文件中未出现的字段保持默认
	assert.Equal(t, 10, cfg.Scheduler.DigestItemLimit)
	assert.Equal(t, "mail.example.com", cfg.Email.SMTPHost)
}

func TestValidateSMTPRequiresCredentials(t *testing.T) {
	cfg := defaultConfig()
	cfg.Email.Mode = EmailModeSMTP

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP_USERNAME")
	assert.Contains(t, err.Error(), "SENDER_EMAIL")

	cfg.Email.Username = "bot@example.com"
	cfg.Email.Password = "secret"
	cfg.Email.Sender = "bot@example.com"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownModes(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.Driver = "mysql"
	cfg.Email.Mode = "carrier-pigeon"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
	assert.Contains(t, err.Error(), "EMAIL_MODE")
}
