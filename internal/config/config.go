package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server ServerConfig
	App    AppConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
	SMS    SMSConfig
	Otp    OtpConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type AppConfig struct {
	// Tag is the application tag expected inside structured scan payloads.
	Tag string
	// PassBaseURL is the public URL passes link to; the access token rides
	// in the fragment.
	PassBaseURL string
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
}

type SMSConfig struct {
	GatewayURL string
	APIKey     string
	Sender     string
}

type OtpConfig struct {
	TTL            time.Duration
	MaxSends       int
	SendWindow     time.Duration
	ResendCooldown time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8086"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		App: AppConfig{
			Tag:         getEnv("APP_TAG", "evt"),
			PassBaseURL: getEnv("PASS_BASE_URL", "https://events.example.com/pass"),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_ADDR", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", true),
		},
		SMS: SMSConfig{
			GatewayURL: getEnv("SMS_GATEWAY_URL", ""),
			APIKey:     getEnv("SMS_API_KEY", ""),
			Sender:     getEnv("SMS_SENDER", "qrinfo"),
		},
		Otp: OtpConfig{
			TTL:            time.Duration(getEnvInt("OTP_TTL_MINUTES", 5)) * time.Minute,
			MaxSends:       getEnvInt("OTP_MAX_SENDS", 3),
			SendWindow:     time.Duration(getEnvInt("OTP_SEND_WINDOW_MINUTES", 10)) * time.Minute,
			ResendCooldown: time.Duration(getEnvInt("OTP_RESEND_COOLDOWN_SECONDS", 60)) * time.Second,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
