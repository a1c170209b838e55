package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	envEndpoint    = "RESTFLOW_OTEL_ENDPOINT"
	envInsecure    = "RESTFLOW_OTEL_INSECURE"
	envService     = "RESTFLOW_OTEL_SERVICE"
	envDialTimeout = "RESTFLOW_OTEL_DIAL_TIMEOUT"
	envHeaders     = "RESTFLOW_OTEL_HEADERS"

	defaultServiceName = "restflow"
	defaultDialTimeout = 5 * time.Second
)

type Config struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
	Version     string
	DialTimeout time.Duration
	Headers     map[string]string
}

// Enabled reports whether spans should be exported at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func Defaults() Config {
	return Config{ServiceName: defaultServiceName, DialTimeout: defaultDialTimeout}
}

// ConfigFromEnv reads exporter settings through getenv so tests can inject
// values. Malformed values fall back to defaults.
func ConfigFromEnv(getenv func(string) string) Config {
	return Defaults().Merge(EnvOverrides(getenv))
}

// EnvOverrides returns only the fields set in the environment, for layering
// on top of file settings.
func EnvOverrides(getenv func(string) string) Config {
	cfg := Config{
		Endpoint:    strings.TrimSpace(getenv(envEndpoint)),
		ServiceName: strings.TrimSpace(getenv(envService)),
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(getenv(envInsecure))); err == nil {
		cfg.Insecure = v
	}
	if v, err := time.ParseDuration(strings.TrimSpace(getenv(envDialTimeout))); err == nil && v > 0 {
		cfg.DialTimeout = v
	}
	if headers, err := ParseHeaders(getenv(envHeaders)); err == nil {
		cfg.Headers = headers
	}
	return cfg
}

// Merge overlays non-zero fields of other onto c.
func (c Config) Merge(other Config) Config {
	if other.Endpoint != "" {
		c.Endpoint = other.Endpoint
	}
	if other.Insecure {
		c.Insecure = true
	}
	if other.ServiceName != "" {
		c.ServiceName = other.ServiceName
	}
	if other.Version != "" {
		c.Version = other.Version
	}
	if other.DialTimeout > 0 {
		c.DialTimeout = other.DialTimeout
	}
	if len(other.Headers) > 0 {
		c.Headers = other.Headers
	}
	return c
}

// ParseHeaders parses "k=v, k2=v2". Blank input yields nil.
func ParseHeaders(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header pair %q", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
