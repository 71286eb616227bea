// Package config loads the environment configuration enumerated in the
// core spec: database connection, JWT verification parameters, CORS
// origin, and the HTTP port/environment pair.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/tinode/jsonco"
)

// DBConfig is the db.* block.
type DBConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// DSN builds a libpq-style connection string for pgxpool.ParseConfig.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.Username, d.Password, d.Host, d.Port, d.Database)
}

// JWTConfig is the jwt.* block. Only verification parameters: issuance
// and password hashing are a sibling service's concern.
type JWTConfig struct {
	Secret    string `json:"secret"`
	ExpiresIn string `json:"expiresIn"`
}

// Config is the full environment configuration.
type Config struct {
	DB     DBConfig  `json:"db"`
	JWT    JWTConfig `json:"jwt"`
	CORS   struct {
		Origin string `json:"origin"`
	} `json:"cors"`
	Port int    `json:"port"`
	Env  string `json:"env"`
}

// Load reads a comment-annotated JSON config file at path, then layers
// a handful of environment variables (and an optional .env file) over
// it so that a bare-metal developer loop needs no file at all. Env vars
// take precedence over the file, matching a 12-factor override model.
func Load(path string) (*Config, error) {
	cfg := &Config{Port: 8080, Env: "development"}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()

		// jsonco strips // and /* */ comments so ops can annotate the file in place.
		if err := json.NewDecoder(jsonco.New(f)).Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// Best-effort: a missing .env is not an error, it just means the
	// process relies on the environment it was started in.
	_ = godotenv.Load()

	overlayEnv(cfg)
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("DB_HOST", &cfg.DB.Host)
	str("DB_DATABASE", &cfg.DB.Database)
	str("DB_USERNAME", &cfg.DB.Username)
	str("DB_PASSWORD", &cfg.DB.Password)
	str("JWT_SECRET", &cfg.JWT.Secret)
	str("JWT_EXPIRES_IN", &cfg.JWT.ExpiresIn)
	str("CORS_ORIGIN", &cfg.CORS.Origin)
	str("ENV", &cfg.Env)

	if v, ok := os.LookupEnv("DB_PORT"); ok {
		fmt.Sscanf(v, "%d", &cfg.DB.Port)
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		fmt.Sscanf(v, "%d", &cfg.Port)
	}
}
