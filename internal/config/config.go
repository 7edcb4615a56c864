package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the single typed configuration object for the whole tool. It is
// loaded once in main and handed to the container; components never read env
// vars on their own.
type Config struct {
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	SiteBaseURL     string
	UserAgent       string
	RatingsPerPage  int
	RequestDelayMin time.Duration
	RequestDelayMax time.Duration
	RequestTimeout  time.Duration

	CloudBaseURL string
	CloudAnonKey string

	NotifyChannel string
}

// Load reads the .env file (if present) and returns a populated Config.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load(".env.local")
	}

	return &Config{
		DatabaseHost:     GetEnv("DB_HOST", "localhost"),
		DatabasePort:     GetEnv("DB_PORT", "5432"),
		DatabaseUser:     GetEnv("DB_USER", "csfdsync"),
		DatabasePassword: GetEnv("DB_PASS", ""),
		DatabaseName:     GetEnv("DB_NAME", "csfdsync"),

		RedisHost:     GetEnv("R_HOST", "localhost"),
		RedisPort:     GetEnv("R_PORT", "6379"),
		RedisPassword: GetEnv("R_PASS", ""),

		SiteBaseURL:     GetEnv("CSFD_BASE_URL", "https://www.csfd.cz"),
		UserAgent:       GetEnv("USER_AGENT", "csfdsync/1.0"),
		RatingsPerPage:  getEnvInt("RATINGS_PER_PAGE", 50),
		RequestDelayMin: getEnvMillis("REQUEST_DELAY_MIN_MS", 250),
		RequestDelayMax: getEnvMillis("REQUEST_DELAY_MAX_MS", 550),
		RequestTimeout:  getEnvMillis("REQUEST_TIMEOUT_MS", 30000),

		CloudBaseURL: GetEnv("CLOUD_SYNC_URL", ""),
		CloudAnonKey: GetEnv("CLOUD_SYNC_ANON_KEY", ""),

		NotifyChannel: GetEnv("NOTIFY_CHANNEL", "csfdsync:ratings-updated"),
	}
}

// DatabaseDSN returns the Postgres connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUser, c.DatabasePassword, c.DatabaseName)
}

// RedisAddr returns the host:port address for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetEnv retrieves values from environment files based on the key it matches,
// returns a string (value) if not empty
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}
