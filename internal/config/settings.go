package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/httpclient"
	"github.com/unkn0wn-root/restflow/internal/storage"
	"github.com/unkn0wn-root/restflow/internal/telemetry"
)

const (
	SettingsFormatTOML SettingsFormat = "toml"
	SettingsFormatJSON SettingsFormat = "json"
)

const (
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultScriptTimeout = 5 * time.Second
	DefaultHistoryMax    = 1000
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
)

type Settings struct {
	Storage   StorageSettings   `json:"storage"   toml:"storage"`
	History   HistorySettings   `json:"history"   toml:"history"`
	HTTP      HTTPSettings      `json:"http"      toml:"http"`
	Scripts   ScriptSettings    `json:"scripts"   toml:"scripts"`
	Telemetry TelemetrySettings `json:"telemetry" toml:"telemetry"`
	Log       LogSettings       `json:"log"       toml:"log"`
	Vars      VarSettings       `json:"vars"      toml:"vars"`
}

type StorageSettings struct {
	Driver string `json:"driver" toml:"driver"`
	Path   string `json:"path"   toml:"path"`
}

type HistorySettings struct {
	MaxEntries int `json:"max_entries" toml:"max_entries"`
}

type HTTPSettings struct {
	Timeout         Duration `json:"timeout"          toml:"timeout"`
	FollowRedirects bool     `json:"follow_redirects" toml:"follow_redirects"`
	Insecure        bool     `json:"insecure"         toml:"insecure"`
	Proxy           string   `json:"proxy"            toml:"proxy"`
	DisableHTTP2    bool     `json:"disable_http2"    toml:"disable_http2"`
	DisableCookies  bool     `json:"disable_cookies"  toml:"disable_cookies"`
	RateLimit       float64  `json:"rate_limit"       toml:"rate_limit"`
	Burst           int      `json:"burst"            toml:"burst"`
	Trace           bool     `json:"trace"            toml:"trace"`
	// OAuthClientAuth is header, body or empty for auto-detection.
	OAuthClientAuth string `json:"oauth_client_auth" toml:"oauth_client_auth"`
}

type ScriptSettings struct {
	Timeout  Duration `json:"timeout"  toml:"timeout"`
	Disabled bool     `json:"disabled" toml:"disabled"`
}

type TelemetrySettings struct {
	Endpoint    string            `json:"endpoint"     toml:"endpoint"`
	Insecure    bool              `json:"insecure"     toml:"insecure"`
	ServiceName string            `json:"service_name" toml:"service_name"`
	DialTimeout Duration          `json:"dial_timeout" toml:"dial_timeout"`
	Headers     map[string]string `json:"headers"      toml:"headers"`
}

type LogSettings struct {
	Level       string `json:"level"       toml:"level"`
	Format      string `json:"format"      toml:"format"`
	File        string `json:"file"        toml:"file"`
	Development bool   `json:"development" toml:"development"`
}

type VarSettings struct {
	// Files are environment files loaded at startup (.env, YAML or JSON).
	Files       []string          `json:"files"       toml:"files"`
	Environment string            `json:"environment" toml:"environment"`
	Global      map[string]string `json:"global"      toml:"global"`
}

// Duration decodes from strings such as "30s" in both TOML and JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	if d.Duration == 0 {
		return []byte(""), nil
	}
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = v
	return nil
}

type SettingsFormat string
type SettingsHandle struct {
	Path   string
	Format SettingsFormat
}

func Defaults() Settings {
	return Settings{
		Storage: StorageSettings{Driver: storage.DriverFile, Path: DataDir()},
		History: HistorySettings{MaxEntries: DefaultHistoryMax},
		HTTP:    HTTPSettings{Timeout: Duration{DefaultHTTPTimeout}},
		Scripts: ScriptSettings{Timeout: Duration{DefaultScriptTimeout}},
		Log:     LogSettings{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// Normalise fills zero values with defaults and cleans enum-like fields.
func Normalise(in Settings) Settings {
	def := Defaults()
	out := in

	out.Storage.Driver = strings.ToLower(strings.TrimSpace(out.Storage.Driver))
	if out.Storage.Driver == "" {
		out.Storage.Driver = def.Storage.Driver
	}
	if strings.TrimSpace(out.Storage.Path) == "" {
		out.Storage.Path = def.Storage.Path
	}
	if out.History.MaxEntries <= 0 {
		out.History.MaxEntries = def.History.MaxEntries
	}
	if out.HTTP.Timeout.Duration <= 0 {
		out.HTTP.Timeout = def.HTTP.Timeout
	}
	if out.HTTP.RateLimit < 0 {
		out.HTTP.RateLimit = 0
	}
	if out.Scripts.Timeout.Duration <= 0 {
		out.Scripts.Timeout = def.Scripts.Timeout
	}
	out.Log.Level = strings.ToLower(strings.TrimSpace(out.Log.Level))
	if out.Log.Level == "" {
		out.Log.Level = def.Log.Level
	}
	out.Log.Format = strings.ToLower(strings.TrimSpace(out.Log.Format))
	if out.Log.Format != "json" {
		out.Log.Format = DefaultLogFormat
	}
	return out
}

// tries loading TOML first, then JSON, then returns defaults if neither exists.
// parse errors fail immediately but missing files just skip to the next format.
func LoadSettings() (Settings, SettingsHandle, error) {
	return LoadSettingsFrom(Dir())
}

func LoadSettingsFrom(dir string) (Settings, SettingsHandle, error) {
	candidates := []SettingsHandle{
		{Path: filepath.Join(dir, "settings.toml"), Format: SettingsFormatTOML},
		{Path: filepath.Join(dir, "settings.json"), Format: SettingsFormatJSON},
	}

	var accumulated error
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate.Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			accumulated = errors.Join(
				accumulated,
				errdef.Wrap(errdef.CodeFilesystem, err, "read settings %q", candidate.Path),
			)
			continue
		}

		settings, err := decodeSettings(data, candidate.Format)
		if err != nil {
			return Settings{}, SettingsHandle{}, errdef.Wrap(errdef.CodeConfig, err, "parse settings %q", candidate.Path)
		}
		return Normalise(settings), candidate, nil
	}

	if accumulated != nil {
		return Settings{}, SettingsHandle{}, accumulated
	}
	return Defaults(), SettingsHandle{Path: candidates[0].Path, Format: SettingsFormatTOML}, nil
}

func decodeSettings(data []byte, format SettingsFormat) (Settings, error) {
	var settings Settings
	switch format {
	case SettingsFormatTOML:
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&settings); err != nil {
			return Settings{}, err
		}
	case SettingsFormatJSON:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&settings); err != nil {
			return Settings{}, err
		}
	default:
		return Settings{}, fmt.Errorf("unsupported settings format %q", format)
	}
	return settings, nil
}

func SaveSettings(settings Settings, handle SettingsHandle) error {
	settings = Normalise(settings)
	path := handle.Path
	format := handle.Format
	if path == "" {
		path = filepath.Join(Dir(), "settings.toml")
	}
	if format == "" {
		format = SettingsFormatTOML
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "ensure settings directory")
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case SettingsFormatTOML:
		data, err = toml.Marshal(settings)
	case SettingsFormatJSON:
		buffer := &bytes.Buffer{}
		encoder := json.NewEncoder(buffer)
		encoder.SetIndent("", "  ")
		if err = encoder.Encode(settings); err == nil {
			data = buffer.Bytes()
		}
	default:
		return errdef.New(errdef.CodeConfig, "unsupported settings format %q", format)
	}
	if err != nil {
		return errdef.Wrap(errdef.CodeConfig, err, "encode settings")
	}

	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "write settings %q", path)
	}
	return nil
}

func (s Settings) StorageConfig() storage.Config {
	return storage.Config{Driver: s.Storage.Driver, Path: s.Storage.Path}
}

func (s Settings) HTTPOptions() httpclient.Options {
	return httpclient.Options{
		Timeout:            s.HTTP.Timeout.Duration,
		FollowRedirects:    s.HTTP.FollowRedirects,
		InsecureSkipVerify: s.HTTP.Insecure,
		ProxyURL:           s.HTTP.Proxy,
		DisableHTTP2:       s.HTTP.DisableHTTP2,
		DisableCookies:     s.HTTP.DisableCookies,
		RateLimit:          s.HTTP.RateLimit,
		Burst:              s.HTTP.Burst,
		Trace:              s.HTTP.Trace,
	}
}

// TelemetryConfig layers defaults, then file settings, then environment.
func (s Settings) TelemetryConfig(getenv func(string) string, version string) telemetry.Config {
	fromFile := telemetry.Config{
		Endpoint:    s.Telemetry.Endpoint,
		Insecure:    s.Telemetry.Insecure,
		ServiceName: s.Telemetry.ServiceName,
		Version:     version,
		DialTimeout: s.Telemetry.DialTimeout.Duration,
		Headers:     s.Telemetry.Headers,
	}
	return telemetry.Defaults().Merge(fromFile).Merge(telemetry.EnvOverrides(getenv))
}

// write to temp file then rename so readers never see partial data.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".restflow-settings-*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Join(err, tmp.Close())
	}
	if err := tmp.Chmod(perm); err != nil {
		return errors.Join(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
