// Package config loads client settings from TOML files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Thejuampi/amqp-client-go/amqp"
	"github.com/Thejuampi/amqp-client-go/amqp/sasl"
)

const DefaultPort = 5672

// Config is the resolved client configuration.
type Config struct {
	Host             string
	Port             int
	VirtualHost      string
	Locale           string
	Auth             Auth
	Tune             *amqp.TuneParams
	ClientProperties amqp.Table
	Reconnect        Reconnect
}

type Auth struct {
	Username  string
	Password  string
	Mechanism string
	Allowed   []string
	AuthzID   string
}

// Reconnect configures dial retries. Attempts of 1 or less means no retry.
type Reconnect struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	Factor   float64
}

type fileConfig struct {
	Host             string                 `toml:"host"`
	Port             int                    `toml:"port"`
	VirtualHost      string                 `toml:"vhost"`
	Locale           string                 `toml:"locale"`
	Auth             authSection            `toml:"auth"`
	Tune             tuneSection            `toml:"tune"`
	ClientProperties map[string]interface{} `toml:"client_properties"`
	Reconnect        reconnectSection       `toml:"reconnect"`
}

type authSection struct {
	Username  string   `toml:"username"`
	Password  string   `toml:"password"`
	Mechanism string   `toml:"mechanism"`
	Allowed   []string `toml:"allowed_mechanisms"`
	AuthzID   string   `toml:"authzid"`
}

type tuneSection struct {
	ChannelMax int64 `toml:"channel_max"`
	FrameMax   int64 `toml:"frame_max"`
	Heartbeat  int64 `toml:"heartbeat"`
}

type reconnectSection struct {
	Attempts int     `toml:"attempts"`
	Delay    string  `toml:"delay"`
	MaxDelay string  `toml:"max_delay"`
	Factor   float64 `toml:"factor"`
}

// Default returns the configuration used when a file sets nothing.
func Default() Config {
	return Config{
		Host:        "localhost",
		Port:        DefaultPort,
		VirtualHost: amqp.DefaultVirtualHost,
		Locale:      amqp.DefaultLocale,
		Reconnect:   Reconnect{Attempts: 1},
	}
}

// Load reads and validates the TOML file at path.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load amqp config: %w", err)
	}
	return resolve(raw, meta)
}

// Parse reads and validates TOML from data.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse amqp config: %w", err)
	}
	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			if len(key) > 0 && key[0] == "client_properties" {
				continue
			}
			keys = append(keys, key.String())
		}
		if len(keys) > 0 {
			return Config{}, fmt.Errorf("unknown amqp config keys: %s", strings.Join(keys, ", "))
		}
	}

	cfg := Default()

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("vhost") {
		cfg.VirtualHost = strings.TrimSpace(raw.VirtualHost)
	}
	if meta.IsDefined("locale") {
		cfg.Locale = strings.TrimSpace(raw.Locale)
	}

	cfg.Auth = Auth{
		Username:  raw.Auth.Username,
		Password:  raw.Auth.Password,
		Mechanism: strings.ToUpper(strings.TrimSpace(raw.Auth.Mechanism)),
		Allowed:   normalizeMechanisms(raw.Auth.Allowed),
		AuthzID:   raw.Auth.AuthzID,
	}

	if meta.IsDefined("tune") {
		tune, err := resolveTune(raw.Tune)
		if err != nil {
			return Config{}, err
		}
		cfg.Tune = tune
	}

	if len(raw.ClientProperties) > 0 {
		cfg.ClientProperties = amqp.Table(raw.ClientProperties)
	}

	if meta.IsDefined("reconnect", "attempts") {
		cfg.Reconnect.Attempts = raw.Reconnect.Attempts
	}
	if meta.IsDefined("reconnect", "delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Reconnect.Delay))
		if err != nil {
			return Config{}, fmt.Errorf("parse reconnect.delay: %w", err)
		}
		cfg.Reconnect.Delay = d
	}
	if meta.IsDefined("reconnect", "max_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Reconnect.MaxDelay))
		if err != nil {
			return Config{}, fmt.Errorf("parse reconnect.max_delay: %w", err)
		}
		cfg.Reconnect.MaxDelay = d
	}
	if meta.IsDefined("reconnect", "factor") {
		cfg.Reconnect.Factor = raw.Reconnect.Factor
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveTune(raw tuneSection) (*amqp.TuneParams, error) {
	if raw.ChannelMax < 0 || raw.ChannelMax > 65535 {
		return nil, fmt.Errorf("tune.channel_max %d out of range", raw.ChannelMax)
	}
	if raw.FrameMax < 0 || raw.FrameMax > 1<<32-1 {
		return nil, fmt.Errorf("tune.frame_max %d out of range", raw.FrameMax)
	}
	if raw.Heartbeat < 0 || raw.Heartbeat > 65535 {
		return nil, fmt.Errorf("tune.heartbeat %d out of range", raw.Heartbeat)
	}
	return &amqp.TuneParams{
		ChannelMax: uint16(raw.ChannelMax), // #nosec G115 -- range checked above
		FrameMax:   uint32(raw.FrameMax),   // #nosec G115 -- range checked above
		Heartbeat:  uint16(raw.Heartbeat),  // #nosec G115 -- range checked above
	}, nil
}

func normalizeMechanisms(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, name := range in {
		v := strings.ToUpper(strings.TrimSpace(name))
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Validate reports the first setting the client cannot use.
func (cfg Config) Validate() error {
	if cfg.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.VirtualHost == "" {
		return fmt.Errorf("vhost must not be empty")
	}
	if cfg.Auth.Mechanism != "" {
		if _, err := sasl.Lookup(cfg.Auth.Mechanism, "user", "pass", sasl.Options{}); err != nil {
			return fmt.Errorf("auth.mechanism %s: %w", cfg.Auth.Mechanism, err)
		}
	}
	for _, name := range cfg.Auth.Allowed {
		if !supported(name) {
			return fmt.Errorf("auth.allowed_mechanisms: %s: %w", name, sasl.ErrUnknownMechanism)
		}
	}
	if cfg.Reconnect.Delay < 0 || cfg.Reconnect.MaxDelay < 0 {
		return fmt.Errorf("reconnect delays must not be negative")
	}
	return nil
}

func supported(name string) bool {
	for _, candidate := range sasl.Supported() {
		if candidate == name {
			return true
		}
	}
	return false
}

// StartOptions converts the configuration into the arguments of Client.Start.
func (cfg Config) StartOptions() amqp.StartOptions {
	return amqp.StartOptions{
		Username:         cfg.Auth.Username,
		Password:         cfg.Auth.Password,
		Mechanism:        cfg.Auth.Mechanism,
		Locale:           cfg.Locale,
		Tune:             cfg.Tune,
		ClientProperties: cfg.ClientProperties,
		SASL: sasl.Options{
			Allowed: cfg.Auth.Allowed,
			AuthzID: cfg.Auth.AuthzID,
		},
	}
}

// ClientOptions returns the construction options for a client dialing with
// dialer. Dial retries are added when Reconnect asks for them.
func (cfg Config) ClientOptions(dialer amqp.Dialer) []amqp.ClientOption {
	if cfg.Reconnect.Attempts > 1 {
		var strategy amqp.ReconnectDelayStrategy = amqp.NewFixedDelayStrategy(cfg.Reconnect.Delay)
		if cfg.Reconnect.Factor > 0 {
			strategy = amqp.NewExponentialDelayStrategy(cfg.Reconnect.Delay, cfg.Reconnect.MaxDelay, cfg.Reconnect.Factor)
		}
		dialer = amqp.RetryDialer(dialer, strategy, cfg.Reconnect.Attempts)
	}
	return []amqp.ClientOption{
		amqp.WithVirtualHost(cfg.VirtualHost),
		amqp.WithDialer(dialer),
	}
}

// NewClient builds an unstarted client from the configuration.
func (cfg Config) NewClient(dialer amqp.Dialer, options ...amqp.ClientOption) *amqp.Client {
	return amqp.NewClient(cfg.Host, cfg.Port, append(cfg.ClientOptions(dialer), options...)...)
}
