package dataserve

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config is the process configuration for a dataserve instance.
// Connection parameters come from the environment (optionally seeded
// from a .env file); the container only ever sees the resulting struct.
type Config struct {
	Addr            string
	Database        string
	ConnectAttempts int
}

// LoadConfig reads configuration from the environment. If envFile is
// non-empty it is loaded first; a missing default .env is not an error.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, err
		}
	} else if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}

	cfg := Config{
		Addr:            getenv("DATASERVE_ADDR", "localhost:9091"),
		Database:        getenv("DATASERVE_DB", "tasks"),
		ConnectAttempts: 3,
	}
	if v := os.Getenv("DATASERVE_CONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			log.Warnf("ignoring bad DATASERVE_CONNECT_ATTEMPTS %q", v)
		} else {
			cfg.ConnectAttempts = n
		}
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
