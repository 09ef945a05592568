// Package config loads staffforms settings from defaults, an optional YAML
// file and STAFFFORMS_* environment variables, in that order of precedence.
// Gate passwords are the exception: when the file sets them, the file wins.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "STAFFFORMS_"

// DefaultPasswords are the department codes the forms shipped with.
var DefaultPasswords = []string{"77665", "66554", "55664", "33556", "22110"}

type Config struct {
	API     APIConfig     `koanf:"api"`
	Client  ClientConfig  `koanf:"client"`
	Gate    GateConfig    `koanf:"gate"`
	Storage StorageConfig `koanf:"storage"`
	Google  GoogleConfig  `koanf:"google"`
	Local   LocalConfig   `koanf:"local"`
	PDF     PDFConfig     `koanf:"pdf"`
	Log     LogConfig     `koanf:"log"`
}

type APIConfig struct {
	Addr string `koanf:"addr"`
}

type ClientConfig struct {
	Addr   string `koanf:"addr"`
	APIURL string `koanf:"apiurl"`
}

type GateConfig struct {
	// Passwords may arrive as a YAML list or a comma separated env value.
	Passwords []string      `koanf:"passwords"`
	TTL       time.Duration `koanf:"ttl"`
	DBPath    string        `koanf:"dbpath"`
	// Attempts is the number of password tries allowed per client per minute.
	Attempts int `koanf:"attempts"`
}

type StorageConfig struct {
	Backend string `koanf:"backend"`
}

type GoogleConfig struct {
	Credentials     string            `koanf:"credentials"`
	CredentialsJSON string            `koanf:"credentialsjson"`
	Folder          string            `koanf:"folder"`
	Sheets          map[string]string `koanf:"sheets"`
}

type LocalConfig struct {
	Dir string `koanf:"dir"`
}

type PDFConfig struct {
	Font   string `koanf:"font"`
	Family string `koanf:"family"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() map[string]any {
	return map[string]any{
		"api": map[string]any{"addr": ":8080"},
		"client": map[string]any{
			"addr":   ":3000",
			"apiurl": "http://localhost:8080",
		},
		"gate": map[string]any{
			"passwords": strings.Join(DefaultPasswords, ","),
			"ttl":       "30m",
			"dbpath":    "gate.db",
			"attempts":  10,
		},
		"storage": map[string]any{"backend": "local"},
		"local":   map[string]any{"dir": "data"},
		"log": map[string]any{
			"level":  "info",
			"format": "json",
		},
	}
}

type Loader struct {
	k        *koanf.Koanf
	filePath string
	ignored  []string
}

type Option func(*Loader)

func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// fileOwnedKeys are hot-reloaded from the config file. A value in the file
// beats the environment for these keys.
var fileOwnedKeys = []string{"gate.passwords"}

// Load builds a fresh Config. It can be called again to pick up file changes.
func (l *Loader) Load() (Config, error) {
	l.k = koanf.New(".")
	l.ignored = nil
	if err := l.k.Load(mapProvider(defaults()), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	fk := koanf.New(".")
	if l.filePath != "" {
		if err := fk.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load file %s: %w", l.filePath, err)
		}
		if err := l.k.Merge(fk); err != nil {
			return Config{}, fmt.Errorf("merge file %s: %w", l.filePath, err)
		}
	}

	// STAFFFORMS_GATE_PASSWORDS -> gate.passwords
	transform := func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}
	ek := koanf.New(".")
	if err := ek.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	if err := l.k.Merge(ek); err != nil {
		return Config{}, fmt.Errorf("merge env: %w", err)
	}
	for _, key := range fileOwnedKeys {
		if !fk.Exists(key) {
			continue
		}
		if ek.Exists(key) {
			l.ignored = append(l.ignored, EnvKey(key))
		}
		if err := l.k.Set(key, fk.Get(key)); err != nil {
			return Config{}, fmt.Errorf("set %s: %w", key, err)
		}
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Gate.Passwords = splitList(l.k.Get("gate.passwords"))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l *Loader) FilePath() string {
	return l.filePath
}

// IgnoredEnv lists the environment variables the last Load overrode with a
// value from the config file.
func (l *Loader) IgnoredEnv() []string {
	return l.ignored
}

func (c Config) Validate() error {
	var problems []string
	if len(c.Gate.Passwords) == 0 {
		problems = append(problems, "gate.passwords must list at least one password")
	}
	if c.Gate.TTL <= 0 {
		problems = append(problems, "gate.ttl must be positive")
	}
	if c.Gate.Attempts <= 0 {
		problems = append(problems, "gate.attempts must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case "local", "":
	case "google":
		if c.Google.Credentials == "" && c.Google.CredentialsJSON == "" {
			problems = append(problems, "google.credentials or google.credentialsjson is required for the google backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q is not one of local, google", c.Storage.Backend))
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// splitList accepts a YAML sequence or a comma separated string.
func splitList(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
	case []string:
		parts = v
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
