// Package config loads the hubverify configuration file, hubverify.yaml,
// and applies environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wondertwin-ai/hubverify/internal/webhook"
)

// DefaultConfigFile is the config file read when no path is given.
const DefaultConfigFile = "hubverify.yaml"

// Environment variables read by Load.
const (
	EnvConfig         = "HUBVERIFY_CONFIG"
	EnvHubURL         = "HUB_URL"
	EnvCallbackDomain = "CALLBACK_DOMAIN"
	EnvCallbackPort   = "CALLBACK_PORT"
)

// Pagination configures the pagination and earliest checks.
type Pagination struct {
	Channel      string        `yaml:"channel"`
	WindowOffset time.Duration `yaml:"window_offset"`
}

// Webhook configures the webhook delivery check.
type Webhook struct {
	StartItem      string        `yaml:"start_item"`
	ThrowawayItems int           `yaml:"throwaway_items"`
	SeedItems      int           `yaml:"seed_items"`
	NewItems       int           `yaml:"new_items"`
	ReplayCount    int           `yaml:"replay_count"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Timeout        time.Duration `yaml:"timeout"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
}

// ChannelCheck configures the channel CRUD checks.
type ChannelCheck struct {
	Description string `yaml:"description"`
}

// History configures the run history store. An empty path disables it.
type History struct {
	Path string `yaml:"path"`
}

// Config is the contents of hubverify.yaml.
type Config struct {
	HubURL         string        `yaml:"hub_url"`
	CallbackDomain string        `yaml:"callback_domain"`
	CallbackPort   int           `yaml:"callback_port"`
	LogFormat      string        `yaml:"log_format"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	Pagination     Pagination    `yaml:"pagination"`
	Webhook        Webhook       `yaml:"webhook"`
	ChannelCheck   ChannelCheck  `yaml:"channel_check"`
	History        History       `yaml:"history"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		HubURL:         "http://localhost:8080",
		CallbackDomain: "http://localhost",
		CallbackPort:   8888,
		LogFormat:      "json",
		HTTPTimeout:    60 * time.Second,
		Pagination: Pagination{
			Channel:      "load_test_1",
			WindowOffset: 48 * time.Hour,
		},
		Webhook: Webhook{
			StartItem:      "previous",
			ThrowawayItems: 1,
			SeedItems:      1,
			NewItems:       4,
			ReplayCount:    1,
			PollInterval:   500 * time.Millisecond,
			Timeout:        60 * time.Second,
		},
		ChannelCheck: ChannelCheck{
			Description: "describe me",
		},
	}
}

// Path resolves the config file path: the explicit flag value, then
// $HUBVERIFY_CONFIG, then DefaultConfigFile.
func Path(flagValue string, getenv func(string) string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := getenv(EnvConfig); p != "" {
		return p
	}
	return DefaultConfigFile
}

// LoadFrom reads the config at path over the defaults. A missing file
// yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the config at path, applies environment overrides and
// validates the result.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvHubURL); v != "" {
		c.HubURL = v
	}
	if v := getenv(EnvCallbackDomain); v != "" {
		c.CallbackDomain = v
	}
	if v := getenv(EnvCallbackPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCallbackPort, err)
		}
		c.CallbackPort = port
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HubURL) == "" {
		errs = append(errs, errors.New("hub_url is required"))
	}
	if c.CallbackPort < 1 || c.CallbackPort > 65535 {
		errs = append(errs, fmt.Errorf("callback_port %d out of range 1-65535", c.CallbackPort))
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: want json or text", c.LogFormat))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, errors.New("http_timeout must not be negative"))
	}

	w := c.Webhook
	policy, err := webhook.ParsePolicy(w.StartItem)
	if err != nil {
		errs = append(errs, err)
	}
	if w.PollInterval <= 0 {
		errs = append(errs, errors.New("webhook.poll_interval must be positive"))
	}
	if w.Timeout <= 0 {
		errs = append(errs, errors.New("webhook.timeout must be positive"))
	}
	if w.ThrowawayItems < 0 || w.SeedItems < 0 || w.NewItems < 0 || w.ReplayCount < 0 {
		errs = append(errs, errors.New("webhook item counts must not be negative"))
	}
	if policy == webhook.Exact && w.ThrowawayItems < 1 {
		errs = append(errs, errors.New("webhook.start_item exact needs throwaway_items >= 1"))
	}
	if w.SettleDelay < 0 {
		errs = append(errs, errors.New("webhook.settle_delay must not be negative"))
	}

	if c.Pagination.Channel == "" {
		errs = append(errs, errors.New("pagination.channel is required"))
	}
	if c.Pagination.WindowOffset < 0 {
		errs = append(errs, errors.New("pagination.window_offset must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// WebhookConfig maps the file settings onto a webhook harness config.
func (c *Config) WebhookConfig() webhook.Config {
	policy, _ := webhook.ParsePolicy(c.Webhook.StartItem)
	return webhook.Config{
		HubURL:         c.HubURL,
		CallbackDomain: c.CallbackDomain,
		CallbackPort:   c.CallbackPort,
		StartItem:      policy,
		ThrowawayItems: c.Webhook.ThrowawayItems,
		SeedItems:      c.Webhook.SeedItems,
		NewItems:       c.Webhook.NewItems,
		ReplayCount:    c.Webhook.ReplayCount,
		PollInterval:   c.Webhook.PollInterval,
		Timeout:        c.Webhook.Timeout,
		SettleDelay:    c.Webhook.SettleDelay,
	}
}
