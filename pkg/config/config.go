package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds derived runtime values that other packages may
// query at runtime (populated during startup after merging env+file).
type RuntimeConfig struct {
	TokenSecret []byte
	PhoneKey    []byte
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// TokenSecret returns the configured token signing secret, or nil.
func TokenSecret() []byte {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	if runtimeCfg == nil {
		return nil
	}
	return runtimeCfg.TokenSecret
}

// PhoneKey returns the configured phone-number encryption key, or nil.
func PhoneKey() []byte {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	if runtimeCfg == nil {
		return nil
	}
	return runtimeCfg.PhoneKey
}

// ParseCommandFlags parses the server's command line flags and reports
// which were explicitly set, so flags can win over env and config file.
func ParseCommandFlags() (addr, dbPath, cfgPath string, set map[string]bool) {
	addrFlag := flag.String("addr", ":8080", "listen address")
	dbFlag := flag.String("db", "./data/chatrelay", "pebble database path")
	cfgFlag := flag.String("config", "", "path to yaml config file")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, set
}

// Load reads and parses the yaml config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEffective builds the effective config: file values first (when a
// path is given and readable), then CHATRELAY_* env overrides. It reports
// whether any env override was applied.
func LoadEffective(path string) (*Config, bool, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, false, err
			}
		} else {
			cfg = loaded
		}
	}
	envUsed := applyEnv(cfg)
	return cfg, envUsed, nil
}

func applyEnv(cfg *Config) bool {
	used := false
	setStr := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
			used = true
		}
	}
	setStr("CHATRELAY_SERVER_ADDRESS", &cfg.Server.Address)
	setStr("CHATRELAY_DB_PATH", &cfg.Server.DBPath)
	setStr("CHATRELAY_TOKEN_SECRET", &cfg.Auth.TokenSecret)
	setStr("CHATRELAY_PHONE_KEY_HEX", &cfg.Security.PhoneKeyHex)
	setStr("CHATRELAY_REPLY_ENDPOINT", &cfg.Reply.Endpoint)
	setStr("CHATRELAY_REPLY_MODEL", &cfg.Reply.Model)
	setStr("CHATRELAY_REPLY_API_KEY", &cfg.Reply.APIKey)
	setStr("CHATRELAY_LOG_LEVEL", &cfg.Logging.Level)
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_SERVER_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
			used = true
		}
	}
	return used
}

// BuildRuntime validates secrets from the effective config and returns
// the runtime view. The token secret is required; the phone key is
// optional but must be 64-hex when present.
func BuildRuntime(cfg *Config) (*RuntimeConfig, error) {
	secret := strings.TrimSpace(cfg.Auth.TokenSecret)
	if secret == "" {
		return nil, fmt.Errorf("auth.token_secret is required (or CHATRELAY_TOKEN_SECRET)")
	}
	rc := &RuntimeConfig{TokenSecret: []byte(secret)}
	if hk := strings.TrimSpace(cfg.Security.PhoneKeyHex); hk != "" {
		kb, err := hex.DecodeString(hk)
		if err != nil || len(kb) != 32 {
			return nil, fmt.Errorf("invalid security.phone_key_hex: must be 64-hex (32 bytes)")
		}
		rc.PhoneKey = kb
	}
	return rc, nil
}
