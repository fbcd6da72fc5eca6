// Package config loads buildnative settings from a KEY=VALUE or TOML file
// plus environment overrides, and exposes them as an explicit Settings
// value that callers pass to each component.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is read when no -config flag is given.
const DefaultFile = "/etc/buildnative.conf"

// Environment variables with these prefixes override file values.
var envPrefixes = []string{"BUILDNATIVE_", "S3_"}

// Config is the raw key space.
type Config struct {
	Values map[string]string
}

// Load reads path and merges environment overrides. A missing file is not
// an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	var err error
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = cfg.loadTOML(path)
	} else {
		err = cfg.loadKeyValue(path)
	}
	if err != nil && !os.IsNotExist(err) {
		return cfg, err
	}

	cfg.MergeEnv(os.Environ())
	return cfg, nil
}

func (c *Config) loadKeyValue(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		c.Values[key] = val
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// loadTOML flattens tables into the key space: [s3] bucket = "x" becomes
// S3_BUCKET.
func (c *Config) loadTOML(path string) error {
	var doc map[string]any
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fmt.Errorf("decode %s: %w", path, err)
	}
	c.flatten("", doc)
	return nil
}

func (c *Config) flatten(prefix string, m map[string]any) {
	for k, v := range m {
		key := strings.ToUpper(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]any:
			c.flatten(key, val)
		case string:
			c.Values[key] = val
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			c.Values[key] = strings.Join(parts, ":")
		default:
			c.Values[key] = fmt.Sprint(val)
		}
	}
}

// MergeEnv applies BUILDNATIVE_* and S3_* entries from environ.
func (c *Config) MergeEnv(environ []string) {
	for _, env := range environ {
		key, val, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		for _, prefix := range envPrefixes {
			if strings.HasPrefix(key, prefix) {
				c.Values[key] = val
				break
			}
		}
	}
}

// Settings is the typed view components consume.
type Settings struct {
	ForceUnixPaths bool
	Quiet          bool
	Debug          bool
	Verbose        bool

	PollInterval   time.Duration
	KillGrace      time.Duration
	DefaultTimeout time.Duration

	Compression string
	Jobs        int

	S3 S3Settings
}

// S3Settings configures the archive publisher.
type S3Settings struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// Defaults used when a key is absent.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultKillGrace    = 500 * time.Millisecond
)

// Settings parses the key space into typed settings.
func (c *Config) Settings() (Settings, error) {
	s := Settings{
		ForceUnixPaths: IsOn(c.Values["BUILDNATIVE_FORCE_UNIX_PATHS"]),
		Quiet:          IsOn(c.Values["BUILDNATIVE_QUIET"]),
		Debug:          IsOn(c.Values["BUILDNATIVE_DEBUG"]),
		Verbose:        IsOn(c.Values["BUILDNATIVE_VERBOSE"]),
		PollInterval:   DefaultPollInterval,
		KillGrace:      DefaultKillGrace,
		Compression:    c.Values["BUILDNATIVE_COMPRESSION"],
		S3: S3Settings{
			Endpoint:  c.Values["S3_ENDPOINT"],
			Region:    c.Values["S3_REGION"],
			Bucket:    c.Values["S3_BUCKET"],
			Prefix:    c.Values["S3_PREFIX"],
			AccessKey: c.Values["S3_ACCESS_KEY_ID"],
			SecretKey: c.Values["S3_SECRET_ACCESS_KEY"],
		},
	}
	if s.Compression == "" {
		s.Compression = "gzip"
	}
	if s.S3.Region == "" {
		s.S3.Region = "auto"
	}

	var err error
	if s.PollInterval, err = c.duration("BUILDNATIVE_POLL_INTERVAL", s.PollInterval); err != nil {
		return s, err
	}
	if s.KillGrace, err = c.duration("BUILDNATIVE_KILL_GRACE", s.KillGrace); err != nil {
		return s, err
	}
	if s.DefaultTimeout, err = c.duration("BUILDNATIVE_TIMEOUT", 0); err != nil {
		return s, err
	}
	if s.PollInterval <= 0 {
		return s, fmt.Errorf("BUILDNATIVE_POLL_INTERVAL must be positive, got %s", s.PollInterval)
	}
	if s.KillGrace < 0 || s.DefaultTimeout < 0 {
		return s, fmt.Errorf("negative durations are not allowed")
	}

	if raw := c.Values["BUILDNATIVE_JOBS"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return s, fmt.Errorf("BUILDNATIVE_JOBS: invalid value %q", raw)
		}
		s.Jobs = n
	}
	return s, nil
}

// duration accepts Go duration strings or a bare number of seconds.
func (c *Config) duration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(c.Values[key])
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

// IsOn reports whether val is a true constant: ON, 1, YES, TRUE or Y.
func IsOn(val string) bool {
	switch strings.ToUpper(strings.TrimSpace(val)) {
	case "ON", "1", "YES", "TRUE", "Y":
		return true
	}
	return false
}

// IsOff reports whether val is a false constant: empty, OFF, 0, NO, FALSE,
// N, IGNORE, NOTFOUND or anything ending in -NOTFOUND. Values that are
// neither (a path, say) make both IsOn and IsOff false.
func IsOff(val string) bool {
	v := strings.ToUpper(strings.TrimSpace(val))
	switch v {
	case "", "OFF", "0", "NO", "FALSE", "N", "IGNORE", "NOTFOUND":
		return true
	}
	return strings.HasSuffix(v, "-NOTFOUND")
}
