// Package config loads the gateway's configuration: defaults, then an
// optional YAML overlay file, then environment-variable overrides, so
// env vars always win over the file — grounded on
// ContentSquare-chproxy's config.LoadFile (YAML-first configuration,
// defaults filled by a setDefaults-shaped pass) combined with the
// teacher's (go-twitter) `ClientConfig.defaults()` zero-value-fill
// idiom, which this package generalizes from a single struct's defaults
// method into a three-layer Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds every gateway-wide setting spec.md §6 names, plus the
// ambient-stack fields SPEC_FULL.md §2-3 add (HTTP listener, upstream
// endpoints, cookie-store backend, logging, CAPTCHA solver credentials).
type Config struct {
	MaxConcurrency int `yaml:"max_concurrency"`
	MaxQueueSize   int `yaml:"max_queue_size"`

	TimeoutLogin   time.Duration `yaml:"timeout_login"`
	TimeoutSearch  time.Duration `yaml:"timeout_search"`
	TimeoutProfile time.Duration `yaml:"timeout_profile"`
	TimeoutTweet   time.Duration `yaml:"timeout_tweet"`
	TimeoutDefault time.Duration `yaml:"timeout_default"`

	AccountsTxtPath string `yaml:"accounts_txt_path"`
	ProxiesTxtPath  string `yaml:"proxies_txt_path"`
	CookiesJSONPath string `yaml:"cookies_json_path"`

	HTTPAddr string `yaml:"http_addr"`

	UpstreamBaseURL       string `yaml:"upstream_base_url"`
	UpstreamLoginURL      string `yaml:"upstream_login_url"`
	UpstreamGuestTokenURL string `yaml:"upstream_guest_token_url"`
	UpstreamBearerToken   string `yaml:"upstream_bearer_token"`

	CookiesBackend string `yaml:"cookies_backend"` // "file" or "redis"
	RedisAddr      string `yaml:"redis_addr"`

	CapsolverAPIKey string `yaml:"capsolver_api_key"`
	CaptchaSiteKey  string `yaml:"captcha_site_key"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// DefaultConfig matches spec.md §6's documented env-var defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		MaxQueueSize:   1000,

		TimeoutLogin:   45 * time.Second,
		TimeoutSearch:  60 * time.Second,
		TimeoutProfile: 30 * time.Second,
		TimeoutTweet:   35 * time.Second,
		TimeoutDefault: 30 * time.Second,

		AccountsTxtPath: "twitters.txt",
		ProxiesTxtPath:  "proxies.txt",
		CookiesJSONPath: "cookies.json",

		HTTPAddr: ":8080",

		CookiesBackend: "file",
		LogLevel:       "info",
	}
}

// Load builds a Config from defaults, an optional YAML file at
// yamlPath (skipped silently if yamlPath is "" or the file doesn't
// exist), and finally environment-variable overrides.
func Load(yamlPath string) (Config, error) {
	cfg := DefaultConfig()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file %s: %w", yamlPath, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", yamlPath, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envInt("MAX_CONCURRENCY", &cfg.MaxConcurrency)
	envInt("MAX_QUEUE_SIZE", &cfg.MaxQueueSize)

	envDurationMs("TIMEOUT_LOGIN", &cfg.TimeoutLogin)
	envDurationMs("TIMEOUT_SEARCH", &cfg.TimeoutSearch)
	envDurationMs("TIMEOUT_PROFILE", &cfg.TimeoutProfile)
	envDurationMs("TIMEOUT_TWEET", &cfg.TimeoutTweet)
	envDurationMs("TIMEOUT_DEFAULT", &cfg.TimeoutDefault)

	envString("ACCOUNTS_TXT_PATH", &cfg.AccountsTxtPath)
	envString("PROXIES_TXT_PATH", &cfg.ProxiesTxtPath)
	envString("COOKIES_JSON_PATH", &cfg.CookiesJSONPath)

	envString("HTTP_ADDR", &cfg.HTTPAddr)
	envString("UPSTREAM_BASE_URL", &cfg.UpstreamBaseURL)
	envString("UPSTREAM_LOGIN_URL", &cfg.UpstreamLoginURL)
	envString("UPSTREAM_GUEST_TOKEN_URL", &cfg.UpstreamGuestTokenURL)
	envString("UPSTREAM_BEARER_TOKEN", &cfg.UpstreamBearerToken)

	envString("COOKIES_BACKEND", &cfg.CookiesBackend)
	envString("REDIS_ADDR", &cfg.RedisAddr)

	envString("CAPSOLVER_API_KEY", &cfg.CapsolverAPIKey)
	envString("CAPTCHA_SITE_KEY", &cfg.CaptchaSiteKey)

	envString("LOG_LEVEL", &cfg.LogLevel)
	envBool("LOG_JSON", &cfg.LogJSON)
}

// DispatchOpTimeouts projects the per-operation-class deadlines into the
// map shape internal/dispatch.Config.OpTimeouts expects.
func (c Config) DispatchOpTimeouts() map[string]time.Duration {
	return map[string]time.Duration{
		"login":   c.TimeoutLogin,
		"search":  c.TimeoutSearch,
		"profile": c.TimeoutProfile,
		"tweet":   c.TimeoutTweet,
		"":        c.TimeoutDefault,
	}
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

func envDurationMs(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = time.Duration(ms) * time.Millisecond
}

func envBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return
	}
	*dst = b
}
