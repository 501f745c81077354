// Package config loads orchestrator configuration from environment
// variables, with an optional YAML file providing local-development
// defaults that environment variables always override.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved orchestrator configuration.
type Config struct {
	AI        AIConfig         `yaml:"ai"`
	Telephony TelephonyConfig  `yaml:"telephony"`
	Server    ServerConfig     `yaml:"server"`
	Campaign  CampaignDefaults `yaml:"campaign"`
	Database  DatabaseConfig   `yaml:"database"`
	Webhook   WebhookConfig    `yaml:"webhook"`
}

type AIConfig struct {
	AgentID string `yaml:"agent_id"`
	APIKey  string `yaml:"api_key"`
}

type TelephonyConfig struct {
	AccountSID  string `yaml:"account_sid"`
	AuthToken   string `yaml:"auth_token"`
	PhoneNumber string `yaml:"phone_number"`
}

type ServerConfig struct {
	PublicURL  string `yaml:"public_url"`
	ListenAddr string `yaml:"listen_addr"`
}

// CampaignDefaults seed new campaigns' settings and govern the bridge's
// shared inactivity authority.
type CampaignDefaults struct {
	DefaultMaxConcurrent int           `yaml:"default_max_concurrent"`
	DefaultCallDelay     time.Duration `yaml:"default_call_delay"`
	InactivityTimeout    time.Duration `yaml:"inactivity_timeout"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type WebhookConfig struct {
	SigningSecret string `yaml:"signing_secret"`
}

// Load builds a Config. If path is non-empty the file is read first and
// used to seed defaults; every field is then overridden by the matching
// environment variable when that variable is set.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Campaign: CampaignDefaults{
			DefaultMaxConcurrent: 5,
			DefaultCallDelay:     10 * time.Second,
			InactivityTimeout:    60 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Database: DatabaseConfig{
			MaxConns: 20,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	overrideWithEnv(cfg)

	if cfg.AI.AgentID == "" || cfg.AI.APIKey == "" {
		return nil, fmt.Errorf("config: AI_AGENT_ID and AI_API_KEY are required")
	}
	if cfg.Telephony.AccountSID == "" || cfg.Telephony.AuthToken == "" {
		return nil, fmt.Errorf("config: TELEPHONY_ACCOUNT_SID and TELEPHONY_AUTH_TOKEN are required")
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	return cfg, nil
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("AI_AGENT_ID"); v != "" {
		cfg.AI.AgentID = v
	}
	if v := os.Getenv("AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("TELEPHONY_ACCOUNT_SID"); v != "" {
		cfg.Telephony.AccountSID = v
	}
	if v := os.Getenv("TELEPHONY_AUTH_TOKEN"); v != "" {
		cfg.Telephony.AuthToken = v
	}
	if v := os.Getenv("TELEPHONY_PHONE_NUMBER"); v != "" {
		cfg.Telephony.PhoneNumber = v
	}
	if v := os.Getenv("SERVER_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("HTTP_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("CAMPAIGN_DEFAULT_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Campaign.DefaultMaxConcurrent = n
		}
	}
	if v := os.Getenv("CAMPAIGN_DEFAULT_CALL_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Campaign.DefaultCallDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("CALL_INACTIVITY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Campaign.InactivityTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DATABASE_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.MaxConns = n
		}
	}
	if v := os.Getenv("WEBHOOK_SIGNING_SECRET"); v != "" {
		cfg.Webhook.SigningSecret = v
	}
}
