package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// It follows the 12-factor app methodology by prioritizing environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	S3        S3Config
	Messages  MessageConfig
	Websocket WebsocketConfig
	JWTSecret string
}

type ServerConfig struct {
	Port        string
	Environment string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PublicBase string
	PresignTTL time.Duration
}

// MessageConfig controls the edit/delete policy windows exposed to clients
// via the message-settings endpoint and enforced server-side.
type MessageConfig struct {
	AllowEdit       bool
	AllowDelete     bool
	EditTimeLimit   time.Duration
	DeleteTimeLimit time.Duration
	PageSize        int
}

type WebsocketConfig struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	SendBuffer int
}

// LoadConfig loads configuration from environment variables.
// A .env file is honored when present but never required.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Environment: getEnv("APP_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "messenger"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		S3: S3Config{
			Region:     getEnv("S3_REGION", ""),
			Bucket:     getEnv("S3_BUCKET", ""),
			AccessKey:  getEnv("S3_ACCESS_KEY", ""),
			SecretKey:  getEnv("S3_SECRET_KEY", ""),
			Endpoint:   getEnv("S3_ENDPOINT", ""),
			PublicBase: getEnv("S3_PUBLIC_BASE", ""),
			PresignTTL: getEnvAsDuration("S3_PRESIGN_TTL", 15*time.Minute),
		},
		Messages: MessageConfig{
			AllowEdit:       getEnvAsBool("MSG_ALLOW_EDIT", true),
			AllowDelete:     getEnvAsBool("MSG_ALLOW_DELETE", true),
			EditTimeLimit:   getEnvAsDuration("MSG_EDIT_TIME_LIMIT", time.Hour),
			DeleteTimeLimit: getEnvAsDuration("MSG_DELETE_TIME_LIMIT", 2*time.Hour),
			PageSize:        getEnvAsInt("MSG_PAGE_SIZE", 50),
		},
		Websocket: WebsocketConfig{
			WriteWait:  getEnvAsDuration("WS_WRITE_WAIT", 10*time.Second),
			PongWait:   getEnvAsDuration("WS_PONG_WAIT", 60*time.Second),
			SendBuffer: getEnvAsInt("WS_SEND_BUFFER", 256),
		},
		JWTSecret: getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
