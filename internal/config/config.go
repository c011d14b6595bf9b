package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level atende configuration.
type Config struct {
	API        APIConfig        `json:"api"`
	Generation GenerationConfig `json:"generation"`
	Knowledge  KnowledgeConfig  `json:"knowledge"`
	Users      []UserSeed       `json:"users"`
	LogBuffer  int              `json:"log_buffer,omitempty"`
}

// APIConfig holds the HTTP listener settings. The websocket endpoint
// shares the same listener.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// GenerationConfig holds the Ollama generation settings.
type GenerationConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	Model       string `json:"model"`
	IdleTimeout int    `json:"idle_timeout,omitempty"` // seconds, default 15
}

// KnowledgeConfig holds the retrieval index settings.
type KnowledgeConfig struct {
	Path     string `json:"path"`
	Schedule string `json:"schedule,omitempty"` // cron spec for full rebuilds
}

// UserSeed is one user registered at startup. Agent grants the agent
// privilege.
type UserSeed struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Agent bool   `json:"agent,omitempty"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with the
// ATENDE_ prefix, used when no config file is given.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			Host: getenv("ATENDE_HOST", "0.0.0.0"),
			Port: getenvInt("ATENDE_PORT", 8080),
		},
		Generation: GenerationConfig{
			BaseURL:     os.Getenv("ATENDE_OLLAMA_URL"),
			Model:       getenv("ATENDE_MODEL", "llama3"),
			IdleTimeout: getenvInt("ATENDE_IDLE_TIMEOUT", 0),
		},
		Knowledge: KnowledgeConfig{
			Path:     getenv("ATENDE_KNOWLEDGE_PATH", "atende.db"),
			Schedule: os.Getenv("ATENDE_KNOWLEDGE_SCHEDULE"),
		},
		LogBuffer: getenvInt("ATENDE_LOG_BUFFER", 0),
	}

	// ATENDE_USERS is a comma-separated list of name:email[:agent].
	if raw := os.Getenv("ATENDE_USERS"); raw != "" {
		users, err := parseUserList(raw)
		if err != nil {
			return nil, fmt.Errorf("config: ATENDE_USERS: %w", err)
		}
		cfg.Users = users
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for required fields, collecting every problem rather
// than stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}
	if c.Generation.Model == "" {
		errs = append(errs, "generation.model is required")
	}
	if c.Generation.IdleTimeout < 0 {
		errs = append(errs, "generation.idle_timeout must not be negative")
	}
	if c.Knowledge.Path == "" {
		errs = append(errs, "knowledge.path is required")
	}
	if len(c.Users) == 0 {
		errs = append(errs, "at least one user is required")
	}
	seen := make(map[string]bool)
	for i, u := range c.Users {
		if u.Name == "" {
			errs = append(errs, fmt.Sprintf("users[%d].name is required", i))
		}
		if u.Email == "" {
			errs = append(errs, fmt.Sprintf("users[%d].email is required", i))
		} else if seen[u.Email] {
			errs = append(errs, fmt.Sprintf("users[%d].email %q is duplicated", i, u.Email))
		}
		seen[u.Email] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseUserList(s string) ([]UserSeed, error) {
	var users []UserSeed
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("invalid user %q, want name:email[:agent]", part)
		}
		u := UserSeed{Name: fields[0], Email: fields[1]}
		if len(fields) == 3 {
			if fields[2] != "agent" {
				return nil, fmt.Errorf("invalid user flag %q, only \"agent\" is allowed", fields[2])
			}
			u.Agent = true
		}
		users = append(users, u)
	}
	return users, nil
}
