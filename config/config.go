package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Discount DiscountConfig `yaml:"discount"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RabbitMQConfig struct {
	URL                   string `yaml:"url"`
	BookingCreatedQueue   string `yaml:"booking_created_queue"`
	DiscountResultQueue   string `yaml:"discount_result_queue"`
	DiscountProgressQueue string `yaml:"discount_progress_queue"`
}

type DiscountConfig struct {
	DailyQuotaLimit    int64   `yaml:"daily_quota_limit"`
	BannedUser         string  `yaml:"banned_user"`
	HighValueThreshold float64 `yaml:"high_value_threshold"`
	Timezone           string  `yaml:"timezone"`
}

type WorkerConfig struct {
	PendingTimeoutMinutes int `yaml:"pending_timeout_minutes"`
	TimeoutSweepMinutes   int `yaml:"timeout_sweep_minutes"`
	QuotaCleanupHours     int `yaml:"quota_cleanup_hours"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RabbitMQ.BookingCreatedQueue == "" {
		c.RabbitMQ.BookingCreatedQueue = "booking_created"
	}
	if c.RabbitMQ.DiscountResultQueue == "" {
		c.RabbitMQ.DiscountResultQueue = "discount_processed"
	}
	if c.RabbitMQ.DiscountProgressQueue == "" {
		c.RabbitMQ.DiscountProgressQueue = "discount_processing"
	}
	if c.Discount.DailyQuotaLimit == 0 {
		c.Discount.DailyQuotaLimit = 100
	}
	if c.Discount.HighValueThreshold == 0 {
		c.Discount.HighValueThreshold = 1000
	}
	if c.Discount.Timezone == "" {
		c.Discount.Timezone = "Asia/Kolkata"
	}
	if c.Worker.PendingTimeoutMinutes == 0 {
		c.Worker.PendingTimeoutMinutes = 5
	}
	if c.Worker.TimeoutSweepMinutes == 0 {
		c.Worker.TimeoutSweepMinutes = 1
	}
	if c.Worker.QuotaCleanupHours == 0 {
		c.Worker.QuotaCleanupHours = 24
	}
}
