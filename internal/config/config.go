package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BotConfig configures the bot process. Storage backend selection follows
// DATABASE_URL: set means Postgres, unset means the flat-file store in
// DataDir.
type BotConfig struct {
	DiscordToken     string
	DatabaseURL      string
	DBMaxConns       int
	DataDir          string
	CatalogPath      string
	APIAddr          string
	SpawnCheckEvery  time.Duration
	SpawnMinInterval time.Duration
	SpawnMaxInterval time.Duration
	ClaimWindow      time.Duration
	StealSessionTTL  time.Duration
}

// CtlConfig configures the packratctl admin CLI, which operates on the same
// storage as the bot.
type CtlConfig struct {
	DatabaseURL string
	DataDir     string
	CatalogPath string
}

func LoadBotFromEnv() (BotConfig, error) {
	cfg := BotConfig{
		DiscordToken:     strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:       envIntDefault("PACKRAT_DB_MAX_CONNS", 10),
		DataDir:          envDefault("PACKRAT_DATA_DIR", "data"),
		CatalogPath:      envDefault("PACKRAT_CATALOG", "catalog.yaml"),
		APIAddr:          envDefault("PACKRAT_API_ADDR", ":8090"),
		SpawnCheckEvery:  envDurationDefault("PACKRAT_SPAWN_CHECK_EVERY", 30*time.Second),
		SpawnMinInterval: envDurationDefault("PACKRAT_SPAWN_MIN_INTERVAL", 30*time.Minute),
		SpawnMaxInterval: envDurationDefault("PACKRAT_SPAWN_MAX_INTERVAL", 90*time.Minute),
		ClaimWindow:      envDurationDefault("PACKRAT_CLAIM_WINDOW", 120*time.Second),
		StealSessionTTL:  envDurationDefault("PACKRAT_STEAL_SESSION_TTL", 60*time.Second),
	}
	if cfg.DiscordToken == "" {
		return cfg, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.SpawnMaxInterval < cfg.SpawnMinInterval {
		return cfg, fmt.Errorf("PACKRAT_SPAWN_MAX_INTERVAL must be >= PACKRAT_SPAWN_MIN_INTERVAL")
	}
	return cfg, nil
}

func LoadCtlFromEnv() CtlConfig {
	return CtlConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DataDir:     envDefault("PACKRAT_DATA_DIR", "data"),
		CatalogPath: envDefault("PACKRAT_CATALOG", "catalog.yaml"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
