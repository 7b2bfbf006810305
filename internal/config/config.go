package config

import (
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Host                  string
	Port                  string
	AllowedOrigin         string
	AllowRemote           bool
	StorageDriver         string
	DatabasePath          string
	DatabaseURL           string
	AuthSecret            string
	AccessTokenTTLMinutes int
	BackupDir             string
	SeedMedicinesCSV      string
	AppEnv                string
	LogLevel              string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set take precedence.
func Load() Config {
	_ = godotenv.Load()

	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	allowRemote, _ := strconv.ParseBool(getEnv("ALLOW_REMOTE", "false"))

	driver := strings.ToLower(strings.TrimSpace(getEnv("STORAGE_DRIVER", "")))
	if driver == "" {
		driver = DriverSQLite
		if os.Getenv("DATABASE_URL") != "" {
			driver = DriverPostgres
		}
	}

	return Config{
		Host:                  getEnv("HOST", "127.0.0.1"),
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:8080"),
		AllowRemote:           allowRemote,
		StorageDriver:         driver,
		DatabasePath:          getEnv("DATABASE_PATH", "pharmacy.db"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		BackupDir:             getEnv("BACKUP_DIR", "backups"),
		SeedMedicinesCSV:      strings.TrimSpace(os.Getenv("SEED_MEDICINES_CSV")),
		AppEnv:                strings.ToLower(getEnv("APP_ENV", "development")),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c Config) Production() bool {
	return c.AppEnv == "production"
}

// Loopback reports whether Host only accepts local connections.
func (c Config) Loopback() bool {
	if strings.EqualFold(c.Host, "localhost") {
		return true
	}
	ip := net.ParseIP(c.Host)
	return ip != nil && ip.IsLoopback()
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
