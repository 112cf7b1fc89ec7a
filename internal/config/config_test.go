package config

import (
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/totpauth/totp"
)

const validConfig = `
workers = 8
auth_per_second = 5
secret = "s3cret"
log_path = "/tmp/totpauth.log"
mode = "http"
listen = "tcp:127.0.0.1:8080"
trusted_proxies = ["10.0.0.0/8", "127.0.0.1"]

[rate_limit]
backend = "memory"
idle_ttl = "5m"

[[webs]]
hostname = "app.example.com"
template = "default"
totp_generations = 2

  [[webs.users]]
  username = "alice"
  password = "hunter2"
  totp = "JBSWY3DPEHPK3PXP"
  duration = 3600

  [[webs.users]]
  username = "bob"
  password = "letmein"
  totp = "jbswy3dpehpk3pxp"
  duration = 60
  algorithm = "sha-512"
  digits = 8
  period = 60

[[webs]]
hostname = "wiki.example.com"
template = "minimal"

  [[webs.users]]
  username = "carol"
  password = "pw"
  totp = "JBSWY3DPEHPK3PXP"
  duration = 10
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "totpauth.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig), "")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 5, cfg.AuthPerSecond)
	assert.Equal(t, "s3cret", cfg.Secret)
	assert.Equal(t, ModeHTTP, cfg.Mode)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.IdleTTL)
	assert.Equal(t, DefaultQueueSize, cfg.QueueSize)

	network, address, err := cfg.ListenAddr()
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "127.0.0.1:8080", address)

	prefixes, err := cfg.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("127.0.0.1/32"),
	}, prefixes)

	dir, err := cfg.Directory()
	require.NoError(t, err)
	assert.Equal(t, []string{"app.example.com", "wiki.example.com"}, dir.Hosts())

	site, ok := dir.Lookup("app.example.com")
	require.True(t, ok)
	assert.Equal(t, 2, site.Generations)
	assert.Equal(t, "default", site.Template)

	alice, ok := site.User("alice")
	require.True(t, ok)
	assert.Equal(t, "hunter2", alice.Password)
	assert.Equal(t, time.Hour, alice.SessionDuration)
	assert.Equal(t, totp.Params{
		Secret:    []byte("Hello!\xde\xad\xbe\xef"),
		Algorithm: totp.SHA1,
		Digits:    6,
		Period:    30,
	}, alice.TOTP)

	bob, ok := site.User("bob")
	require.True(t, ok)
	assert.Equal(t, totp.SHA512, bob.TOTP.Algorithm)
	assert.Equal(t, 8, bob.TOTP.Digits)
	assert.Equal(t, 60, bob.TOTP.Period)
	assert.Equal(t, alice.TOTP.Secret, bob.TOTP.Secret, "base32 case is ignored")

	wiki, ok := dir.Lookup("wiki.example.com")
	require.True(t, ok)
	assert.Equal(t, totp.DefaultGenerations, wiki.Generations)

	assert.Equal(t, []string{
		"app.example.com (template default): alice, bob",
		"wiki.example.com (template minimal): carol",
	}, cfg.Summary())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[[webs]]
hostname = "a.example.com"
template = "default"
users = []
`), "")
	require.NoError(t, err)

	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultAuthPerSecond, cfg.AuthPerSecond)
	assert.Equal(t, ModeFastCGI, cfg.Mode)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, BackendMemory, cfg.RateLimit.Backend)
	assert.Empty(t, cfg.Secret)

	level, err := cfg.LogLevelValue()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoadInvalid(t *testing.T) {
	user := func(extra string) string {
		return `
[[webs]]
hostname = "a.example.com"
template = "default"
  [[webs.users]]
  username = "alice"
  password = "pw"
  totp = "JBSWY3DPEHPK3PXP"
  duration = 60
` + extra
	}

	cases := map[string]string{
		"missing webs":       `secret = "x"`,
		"empty webs":         `webs = []`,
		"missing hostname":   "[[webs]]\ntemplate = \"default\"\nusers = []\n",
		"missing template":   "[[webs]]\nhostname = \"a\"\nusers = []\n",
		"missing users":      "[[webs]]\nhostname = \"a\"\ntemplate = \"default\"\n",
		"digits too small":   user("  digits = 5\n"),
		"digits too large":   user("  digits = 10\n"),
		"zero period":        user("  period = 0\n"),
		"unknown algorithm":  user("  algorithm = \"md5\"\n"),
		"bad base32":         user("  [[webs.users]]\n  username = \"b\"\n  password = \"pw\"\n  totp = \"!!!\"\n  duration = 1\n"),
		"missing duration":   user("  [[webs.users]]\n  username = \"b\"\n  password = \"pw\"\n  totp = \"JBSWY3DP\"\n"),
		"duplicate user":     user("  [[webs.users]]\n  username = \"alice\"\n  password = \"pw\"\n  totp = \"JBSWY3DP\"\n  duration = 1\n"),
		"duplicate host":     user(user("")),
		"negative gens":      "[[webs]]\nhostname = \"a\"\ntemplate = \"t\"\ntotp_generations = -1\nusers = []\n",
		"bad mode":           "mode = \"grpc\"\n" + user(""),
		"bad listen":         "listen = \"127.0.0.1:80\"\n" + user(""),
		"bad proxy":          "trusted_proxies = [\"nope\"]\n" + user(""),
		"bad log level":      "log_level = \"loud\"\n" + user(""),
		"redis without addr": "[rate_limit]\nbackend = \"redis\"\n" + user(""),
		"unknown backend":    "[rate_limit]\nbackend = \"etcd\"\n" + user(""),
		"unknown key":        "threads = 4\n" + user(""),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body), "")
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"), "")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvSecret, "from-env")
	t.Setenv(EnvRedisPassword, "redis-pw")

	cfg, err := Load(writeConfig(t, validConfig), "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Secret)
	assert.Equal(t, "redis-pw", cfg.RateLimit.RedisPassword)
}

func TestEnvFile(t *testing.T) {
	t.Setenv(EnvSecret, "")
	require.NoError(t, os.Unsetenv(EnvSecret))

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(EnvSecret+"=from-file\n"), 0o600))

	cfg, err := Load(writeConfig(t, validConfig), envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Secret)

	_, err = Load(writeConfig(t, validConfig), filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestUnixListen(t *testing.T) {
	cfg := &Config{Listen: "unix:/run/totpauth.sock"}
	network, address, err := cfg.ListenAddr()
	require.NoError(t, err)
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/run/totpauth.sock", address)
}
