// Package config loads and validates the totpauth TOML configuration.
//
// A minimal file:
//
//	secret = "change me"
//
//	[[webs]]
//	hostname = "app.example.com"
//	template = "default"
//
//	  [[webs.users]]
//	  username = "alice"
//	  password = "hunter2"
//	  totp     = "JBSWY3DPEHPK3PXP"
//	  duration = 86400
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jmcleod/totpauth/ratelimit"
	"github.com/jmcleod/totpauth/tenant"
	"github.com/jmcleod/totpauth/totp"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultWorkers       = 4
	DefaultAuthPerSecond = 2
	DefaultQueueSize     = 256
	DefaultMode          = ModeFastCGI
	DefaultListen        = "tcp:127.0.0.1:9000"
	DefaultLogLevel      = "info"
	DefaultAlgorithm     = "sha1"

	ModeFastCGI = "fastcgi"
	ModeHTTP    = "http"

	BackendMemory = "memory"
	BackendRedis  = "redis"

	EnvSecret        = "TOTPAUTH_SECRET"
	EnvRedisPassword = "TOTPAUTH_REDIS_PASSWORD"
)

// Config is the decoded configuration file.
type Config struct {
	Workers        int             `toml:"workers"`
	AuthPerSecond  int             `toml:"auth_per_second"`
	Secret         string          `toml:"secret"`
	LogPath        string          `toml:"log_path"`
	LogLevel       string          `toml:"log_level"`
	Mode           string          `toml:"mode"`
	Listen         string          `toml:"listen"`
	QueueSize      int             `toml:"queue_size"`
	TemplateDir    string          `toml:"template_dir"`
	TrustedProxies []string        `toml:"trusted_proxies"`
	RateLimit      RateLimitConfig `toml:"rate_limit"`
	Webs           []WebConfig     `toml:"webs"`
}

// RateLimitConfig selects and tunes the login rate limiter backend.
type RateLimitConfig struct {
	Backend       string        `toml:"backend"`
	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db"`
	KeyPrefix     string        `toml:"key_prefix"`
	IdleTTL       time.Duration `toml:"idle_ttl"`
}

// WebConfig is one tenant.
type WebConfig struct {
	Hostname        string       `toml:"hostname"`
	Template        string       `toml:"template"`
	TOTPGenerations *int         `toml:"totp_generations"`
	Users           []UserConfig `toml:"users"`
}

// UserConfig is one user of a tenant. Duration is in seconds.
type UserConfig struct {
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	TOTP      string `toml:"totp"`
	Duration  int    `toml:"duration"`
	Algorithm string `toml:"algorithm"`
	Digits    *int   `toml:"digits"`
	Period    *int   `toml:"period"`
}

// Load reads the file at path, applies environment overrides (after loading
// envFile, when given) and defaults, and validates the result.
func Load(path, envFile string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys: %s", ErrInvalid, strings.Join(keys, ", "))
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvSecret); ok {
		c.Secret = v
	}
	if v, ok := os.LookupEnv(EnvRedisPassword); ok {
		c.RateLimit.RedisPassword = v
	}
}

func (c *Config) applyDefaults() {
	if c.Workers < 1 {
		c.Workers = DefaultWorkers
	}
	if c.AuthPerSecond < 1 {
		c.AuthPerSecond = DefaultAuthPerSecond
	}
	if c.QueueSize < 1 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = BackendMemory
	}
	if c.RateLimit.IdleTTL <= 0 {
		c.RateLimit.IdleTTL = ratelimit.DefaultIdleTTL
	}
}

// Validate checks the whole configuration, including every tenant and user.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeFastCGI, ModeHTTP:
	default:
		return fmt.Errorf("%w: mode must be %q or %q", ErrInvalid, ModeFastCGI, ModeHTTP)
	}
	if _, _, err := c.ListenAddr(); err != nil {
		return err
	}
	if _, err := c.LogLevelValue(); err != nil {
		return err
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("%w: rate_limit.redis_addr is required for the redis backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown rate_limit.backend %q", ErrInvalid, c.RateLimit.Backend)
	}
	_, err := c.Directory()
	return err
}

// ListenAddr splits Listen ("tcp:host:port" or "unix:/path") into a
// network and an address.
func (c *Config) ListenAddr() (network, address string, err error) {
	network, address, ok := strings.Cut(c.Listen, ":")
	if !ok || address == "" {
		return "", "", fmt.Errorf("%w: listen must look like tcp:host:port or unix:/path", ErrInvalid)
	}
	switch network {
	case "tcp", "tcp4", "tcp6", "unix":
		return network, address, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported listen network %q", ErrInvalid, network)
	}
}

// LogLevelValue parses LogLevel.
func (c *Config) LogLevelValue() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
	}
	return level, nil
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become
// single-host prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if p, err := netip.ParsePrefix(raw); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: trusted_proxies entry %q is not an address or CIDR", ErrInvalid, raw)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Directory builds the tenant directory described by Webs.
func (c *Config) Directory() (*tenant.Directory, error) {
	if c.Webs == nil {
		return nil, fmt.Errorf("%w: missing 'webs' array definition", ErrInvalid)
	}
	if len(c.Webs) == 0 {
		return nil, fmt.Errorf("%w: 'webs' must be an array of 1 or more elements", ErrInvalid)
	}

	b := tenant.NewBuilder()
	for i, w := range c.Webs {
		site, err := w.site()
		if err != nil {
			return nil, fmt.Errorf("webs[%d]: %w", i, err)
		}
		if err := b.Add(site); err != nil {
			return nil, fmt.Errorf("%w: webs[%d]: %v", ErrInvalid, i, err)
		}
	}
	return b.Build(), nil
}

func (w WebConfig) site() (*tenant.Site, error) {
	if w.Hostname == "" || w.Template == "" || w.Users == nil {
		return nil, fmt.Errorf("%w: hostname, template and users must be present in the web group", ErrInvalid)
	}
	generations := totp.DefaultGenerations
	if w.TOTPGenerations != nil {
		generations = *w.TOTPGenerations
	}
	if generations < 0 {
		return nil, fmt.Errorf("%w: totp_generations must not be negative", ErrInvalid)
	}

	site := tenant.NewSite(w.Hostname, w.Template, generations)
	for j, u := range w.Users {
		user, err := u.user()
		if err != nil {
			return nil, fmt.Errorf("users[%d]: %w", j, err)
		}
		if err := site.AddUser(user); err != nil {
			return nil, fmt.Errorf("%w: users[%d]: %v", ErrInvalid, j, err)
		}
	}
	return site, nil
}

func (u UserConfig) user() (*tenant.User, error) {
	if u.Username == "" || u.Password == "" || u.TOTP == "" || u.Duration == 0 {
		return nil, fmt.Errorf("%w: username, password, totp and duration must be present in the user group", ErrInvalid)
	}
	if u.Duration < 0 {
		return nil, fmt.Errorf("%w: duration must be bigger than zero", ErrInvalid)
	}

	algName := u.Algorithm
	if algName == "" {
		algName = DefaultAlgorithm
	}
	alg, err := totp.ParseAlgorithm(algName)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid algorithm specified: %v", ErrInvalid, err)
	}
	digits := totp.DefaultDigits
	if u.Digits != nil {
		digits = *u.Digits
	}
	if digits < totp.MinDigits || digits > totp.MaxDigits {
		return nil, fmt.Errorf("%w: digits must be between %d and %d (included)", ErrInvalid, totp.MinDigits, totp.MaxDigits)
	}
	period := totp.DefaultPeriod
	if u.Period != nil {
		period = *u.Period
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: period must be bigger than zero", ErrInvalid)
	}
	secret, err := totp.DecodeSecret(u.TOTP)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %v", ErrInvalid, u.Username, err)
	}

	return &tenant.User{
		Name:     u.Username,
		Password: u.Password,
		TOTP: totp.Params{
			Secret:    secret,
			Algorithm: alg,
			Digits:    digits,
			Period:    period,
		},
		SessionDuration: time.Duration(u.Duration) * time.Second,
	}, nil
}

// Summary lists each host with its users, for check-config output.
func (c *Config) Summary() []string {
	var lines []string
	for _, w := range c.Webs {
		names := make([]string, 0, len(w.Users))
		for _, u := range w.Users {
			names = append(names, u.Username)
		}
		sort.Strings(names)
		lines = append(lines, fmt.Sprintf("%s (template %s): %s", w.Hostname, w.Template, strings.Join(names, ", ")))
	}
	return lines
}
