package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configPathEnv = "TOPICDIGEST_CONFIG"

const (
	EmailModeMock = "mock"
	EmailModeSMTP = "smtp"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	AppPort string `yaml:"appPort"`

	// 管理接口 Basic Auth，留空则不启用
	BasicAuthUser string `yaml:"basicAuthUser"`
	BasicAuthPass string `yaml:"basicAuthPass"`

	LogLevel string `yaml:"logLevel"`

	Database DatabaseConfig `yaml:"database"`
	// 为空时不连接 Redis：锁退化为进程内锁，新闻列表不缓存
	RedisAddr string `yaml:"redisAddr"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	News      NewsConfig      `yaml:"news"`
	Email     EmailConfig     `yaml:"email"`
}

type DatabaseConfig struct {
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgresDsn"`
	SQLitePath  string `yaml:"sqlitePath"`
}

type SchedulerConfig struct {
	CronSpec        string        `yaml:"cronSpec"`
	TickConcurrency int           `yaml:"tickConcurrency"`
	DigestItemLimit int           `yaml:"digestItemLimit"`
	WelcomeWindow   time.Duration `yaml:"welcomeWindow"`
}

type NewsConfig struct {
	// 按顺序尝试的数据源：google / hackernews / bing
	Sources       []string      `yaml:"sources"`
	GoogleNewsURL string        `yaml:"googleNewsUrl"`
	Lang          string        `yaml:"lang"`
	Region        string        `yaml:"region"`
	FetchTimeout  time.Duration `yaml:"fetchTimeout"`
	RatePerSecond float64       `yaml:"ratePerSecond"`
}

type EmailConfig struct {
	Mode        string        `yaml:"mode"`
	SMTPHost    string        `yaml:"smtpHost"`
	SMTPPort    int           `yaml:"smtpPort"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Sender      string        `yaml:"sender"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"maxAttempts"`
	// mock 模式下把渲染好的 HTML 落盘到该目录，便于人工检查
	OutboxDir string `yaml:"outboxDir"`
}

func defaultConfig() *Config {
	return &Config{
		AppPort:  "9000",
		LogLevel: "info",
		Database: DatabaseConfig{
			Driver:      DriverPostgres,
			PostgresDSN: "host=localhost user=topicdigest password=topicdigest dbname=topicdigest port=5432 sslmode=disable TimeZone=UTC",
			SQLitePath:  "data/topicdigest.db",
		},
		Scheduler: SchedulerConfig{
			CronSpec:        "0 * * * *",
			TickConcurrency: 1,
			DigestItemLimit: 10,
			WelcomeWindow:   7 * 24 * time.Hour,
		},
		News: NewsConfig{
			Sources:       []string{"google", "hackernews"},
			GoogleNewsURL: "https://news.google.com/rss/search",
			Lang:          "zh-TW",
			Region:        "TW",
			FetchTimeout:  15 * time.Second,
			RatePerSecond: 1,
		},
		Email: EmailConfig{
			Mode:        EmailModeMock,
			SMTPHost:    "smtp.gmail.com",
			SMTPPort:    587,
			Timeout:     20 * time.Second,
			MaxAttempts: 3,
		},
	}
}

// Load 依次读取 .env、可选的 YAML 文件（TOPICDIGEST_CONFIG）和环境变量，后者优先级最高
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: load .env: %v", err)
	}

	cfg := defaultConfig()
	if path := os.Getenv(configPathEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			log.Printf("config: %v (falling back to defaults)", err)
		}
	}
	cfg.applyEnv()

	log.Printf("config loaded: port=%s db=%s cron=%s email=%s", cfg.AppPort, cfg.Database.Driver, cfg.Scheduler.CronSpec, cfg.Email.Mode)
	return cfg
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	// 直接解到默认值之上，文件中未出现的字段保持默认
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.AppPort = getEnv("APP_PORT", c.AppPort)
	c.BasicAuthUser = getEnv("APP_BASIC_USER", c.BasicAuthUser)
	c.BasicAuthPass = getEnv("APP_BASIC_PASS", c.BasicAuthPass)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Database.Driver = strings.ToLower(getEnv("DB_DRIVER", c.Database.Driver))
	c.Database.PostgresDSN = getEnv("POSTGRES_DSN", c.Database.PostgresDSN)
	c.Database.SQLitePath = getEnv("SQLITE_PATH", c.Database.SQLitePath)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)

	c.Scheduler.CronSpec = getEnv("CRON_SPEC", c.Scheduler.CronSpec)
	c.Scheduler.TickConcurrency = getEnvInt("TICK_CONCURRENCY", c.Scheduler.TickConcurrency)
	c.Scheduler.DigestItemLimit = getEnvInt("DIGEST_ITEM_LIMIT", c.Scheduler.DigestItemLimit)
	c.Scheduler.WelcomeWindow = getEnvDuration("WELCOME_WINDOW", c.Scheduler.WelcomeWindow)

	if v := os.Getenv("NEWS_SOURCES"); v != "" {
		c.News.Sources = splitList(v)
	}
	c.News.GoogleNewsURL = getEnv("GOOGLE_NEWS_URL", c.News.GoogleNewsURL)
	c.News.Lang = getEnv("NEWS_LANG", c.News.Lang)
	c.News.Region = getEnv("NEWS_REGION", c.News.Region)
	c.News.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", c.News.FetchTimeout)
	c.News.RatePerSecond = getEnvFloat("FETCH_RATE_PER_SEC", c.News.RatePerSecond)

	c.Email.Mode = strings.ToLower(getEnv("EMAIL_MODE", c.Email.Mode))
	c.Email.SMTPHost = getEnv("SMTP_HOST", c.Email.SMTPHost)
	c.Email.SMTPPort = getEnvInt("SMTP_PORT", c.Email.SMTPPort)
	c.Email.Username = getEnv("SMTP_USERNAME", c.Email.Username)
	c.Email.Password = getEnv("SMTP_PASSWORD", c.Email.Password)
	c.Email.Sender = getEnv("SENDER_EMAIL", c.Email.Sender)
	c.Email.Timeout = getEnvDuration("EMAIL_TIMEOUT", c.Email.Timeout)
	c.Email.MaxAttempts = getEnvInt("EMAIL_MAX_ATTEMPTS", c.Email.MaxAttempts)
	c.Email.OutboxDir = getEnv("EMAIL_OUTBOX_DIR", c.Email.OutboxDir)
}

// Validate 只检查会导致启动失败的配置；运行期错误不在这里处理
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for postgres driver"))
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}

	switch c.Email.Mode {
	case EmailModeMock:
	case EmailModeSMTP:
		if c.Email.SMTPHost == "" {
			errs = append(errs, errors.New("SMTP_HOST is required in smtp mode"))
		}
		if c.Email.Username == "" || c.Email.Password == "" {
			errs = append(errs, errors.New("SMTP_USERNAME and SMTP_PASSWORD are required in smtp mode"))
		}
		if c.Email.Sender == "" {
			errs = append(errs, errors.New("SENDER_EMAIL is required in smtp mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_MODE %q", c.Email.Mode))
	}

	if c.Scheduler.DigestItemLimit < 1 {
		errs = append(errs, errors.New("DIGEST_ITEM_LIMIT must be >= 1"))
	}
	if len(c.News.Sources) == 0 {
		errs = append(errs, errors.New("NEWS_SOURCES must name at least one source"))
	}

	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %g", key, v, def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		log.Printf("config: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Now returns current time, 方便后续做可测试封装
func Now() time.Time {
	return time.Now()
}
