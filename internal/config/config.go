package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	DB struct {
		DSN string
	}
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		Username   string
		Password   string
		FromName   string
	}
	SMS struct {
		AccountSID string
		AuthToken  string
		FromNumber string
		APIBaseURL string
	}
	Telegram struct {
		BotToken      string
		RatePerSecond int
	}
	Slack struct {
		WebhookURL string
	}
	API struct {
		Port     string
		BasePath string
	}
	Dispatcher struct {
		TickInterval      time.Duration
		BatchSize         int
		SendTimeout       time.Duration
		DefaultMaxRetries int
	}
	Logging struct {
		Dir    string
		Level  string
		Format string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	// Database DSN
	cfg.DB.DSN = os.Getenv("DB_DSN")

	// Kafka settings
	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	// Email settings
	cfg.Email.SMTPServer = os.Getenv("EMAIL_SMTP_SERVER")
	if p, err := strconv.Atoi(os.Getenv("EMAIL_SMTP_PORT")); err == nil {
		cfg.Email.SMTPPort = p
	}
	cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")
	cfg.Email.FromName = os.Getenv("EMAIL_FROM_NAME")

	// SMS (Twilio) settings
	cfg.SMS.AccountSID = os.Getenv("SMS_ACCOUNT_SID")
	cfg.SMS.AuthToken = os.Getenv("SMS_AUTH_TOKEN")
	cfg.SMS.FromNumber = os.Getenv("SMS_FROM_NUMBER")
	cfg.SMS.APIBaseURL = os.Getenv("SMS_API_BASE_URL")

	// Telegram settings
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if r, err := strconv.Atoi(os.Getenv("TELEGRAM_RATE_PER_SECOND")); err == nil {
		cfg.Telegram.RatePerSecond = r
	}

	// Slack settings
	cfg.Slack.WebhookURL = os.Getenv("SLACK_WEBHOOK_URL")

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	// Dispatcher settings
	if d, err := time.ParseDuration(os.Getenv("DISPATCH_TICK_INTERVAL")); err == nil {
		cfg.Dispatcher.TickInterval = d
	}
	if bs, err := strconv.Atoi(os.Getenv("DISPATCH_BATCH_SIZE")); err == nil {
		cfg.Dispatcher.BatchSize = bs
	}
	if d, err := time.ParseDuration(os.Getenv("DISPATCH_SEND_TIMEOUT")); err == nil {
		cfg.Dispatcher.SendTimeout = d
	}
	if mr, err := strconv.Atoi(os.Getenv("DISPATCH_MAX_RETRIES")); err == nil {
		cfg.Dispatcher.DefaultMaxRetries = mr
	}

	// Logging settings
	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")
	cfg.Logging.Format = os.Getenv("LOG_FORMAT")

	// Validate required settings
	missing := []string{}
	if cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if cfg.Kafka.Broker == "" {
		missing = append(missing, "KAFKA_BROKER")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	// Apply defaults
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "kri_measurements"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "resilience-notifier"
	}
	if cfg.SMS.APIBaseURL == "" {
		cfg.SMS.APIBaseURL = "https://api.twilio.com"
	}
	if cfg.Telegram.RatePerSecond == 0 {
		cfg.Telegram.RatePerSecond = 25
	}
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v1"
	}
	if cfg.Dispatcher.TickInterval == 0 {
		cfg.Dispatcher.TickInterval = time.Second
	}
	if cfg.Dispatcher.BatchSize == 0 {
		cfg.Dispatcher.BatchSize = 100
	}
	if cfg.Dispatcher.SendTimeout == 0 {
		cfg.Dispatcher.SendTimeout = 30 * time.Second
	}
	if cfg.Dispatcher.DefaultMaxRetries == 0 {
		cfg.Dispatcher.DefaultMaxRetries = 3
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	return cfg, nil
}
