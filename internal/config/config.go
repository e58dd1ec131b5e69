package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Config holds connection and run settings. Load fills it from the
// environment; command-line flags override individual fields.
type Config struct {
	URI           string
	MongosHosts   []string
	AdminUser     string
	AdminPassword string
	AuthSource    string

	Database      string
	InitialChunks int
	PlanFile      string
	DryRun        bool
	SkipSharded   bool
	Verbose       bool

	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	SocketTimeout          time.Duration
	PollInterval           time.Duration
	WaitTimeout            time.Duration
	RunTimeout             time.Duration
}

// Load builds config from environment variables with defaults.
func Load() *Config {
	return &Config{
		URI:           env("MONGO_URI", ""),
		MongosHosts:   splitHosts(env("MONGO_HOSTS", "localhost:27017")),
		AdminUser:     env("MONGO_ADMIN_USER", ""),
		AdminPassword: env("MONGO_ADMIN_PASSWORD", ""),
		AuthSource:    env("MONGO_AUTH_SOURCE", "admin"),
		Database:      env("MONGO_DATABASE", ""),
		PlanFile:      env("SHARD_SETUP_PLAN", ""),
		SkipSharded:   true,

		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 10 * time.Second,
		SocketTimeout:          45 * time.Second,
		PollInterval:           time.Second,
		WaitTimeout:            2 * time.Minute,
		RunTimeout:             30 * time.Minute,
	}
}

// ConnectionURI returns URI when set, otherwise a mongos seed list built from
// MongosHosts with escaped credentials.
func (c *Config) ConnectionURI() (string, error) {
	if c.URI != "" {
		return c.URI, nil
	}
	if len(c.MongosHosts) == 0 {
		return "", errors.New("no mongos hosts configured")
	}

	var b strings.Builder
	b.WriteString("mongodb://")
	if c.AdminUser != "" && c.AdminPassword != "" {
		b.WriteString(escapeCredential(c.AdminUser))
		b.WriteByte(':')
		b.WriteString(escapeCredential(c.AdminPassword))
		b.WriteByte('@')
	}
	b.WriteString(strings.Join(c.MongosHosts, ","))
	b.WriteString("/")
	if c.AdminUser != "" && c.AdminPassword != "" {
		authSource := c.AuthSource
		if authSource == "" {
			authSource = "admin"
		}
		b.WriteString("?authSource=")
		b.WriteString(url.QueryEscape(authSource))
	}
	return b.String(), nil
}

// RedactedURI is ConnectionURI with the password masked, for logging.
func (c *Config) RedactedURI() string {
	uri, err := c.ConnectionURI()
	if err != nil {
		return ""
	}
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// escapeCredential percent-encodes a user name or password. Values that
// already contain a '%' are assumed to be encoded and passed through.
func escapeCredential(s string) string {
	if strings.Contains(s, "%") {
		return s
	}
	// the driver unescapes userinfo with PathUnescape, so no '+' for spaces
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// ParseBool accepts the spellings used on the command line for
// --dry-run and --skip-sharded.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, errors.Errorf("invalid boolean %q (want true or false)", s)
	}
	return b, nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
