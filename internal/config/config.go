// Package config loads clipmind configuration: defaults, then an optional
// JSON file, then CLIPMIND_* environment overrides. Command-line flags are
// applied last by the cmd package.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clipmind/internal/security"
)

const envPrefix = "CLIPMIND_"

// Duration is a time.Duration that reads and writes JSON strings like "30s".
type Duration struct{ time.Duration }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Bare numbers are seconds.
		var secs float64
		if err2 := json.Unmarshal(b, &secs); err2 != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"` // console | json
	File   string `json:"file,omitempty"`
}

type Storage struct {
	Path          string   `json:"path"`
	BusyRetries   int      `json:"busy_retries"`
	BusyRetryBase Duration `json:"busy_retry_base"`
}

type Security struct {
	PasswordPolicy      string   `json:"password_policy"` // ignore | encrypt | allow
	AutoDetectPasswords bool     `json:"auto_detect_passwords"`
	PasswordTimeout     Duration `json:"password_timeout"`
	KeyMode             string   `json:"key_mode"` // file | passphrase
	KeyPath             string   `json:"key_path"`
	SaltPath            string   `json:"salt_path"`
}

type Retention struct {
	MaxItems int      `json:"max_items"`
	MaxAge   Duration `json:"max_age"`
	Interval Duration `json:"interval"`
}

type OCR struct {
	Enabled   bool     `json:"enabled"`
	Backend   string   `json:"backend"` // tesseract | none
	Binary    string   `json:"binary,omitempty"`
	Languages string   `json:"languages"`
	TessData  string   `json:"tessdata,omitempty"`
	Timeout   Duration `json:"timeout"`
	Grace     Duration `json:"shutdown_grace"`
}

type Embedding struct {
	Backend    string   `json:"backend"` // hash | ollama | none
	Dimensions int      `json:"dimensions"`
	OllamaURL  string   `json:"ollama_url"`
	Model      string   `json:"model"`
	Timeout    Duration `json:"timeout"`
}

type Language struct {
	Backend       string  `json:"backend"` // keyword | none
	MinConfidence float64 `json:"min_confidence"`
}

type Enrichment struct {
	OCR       OCR       `json:"ocr"`
	Embedding Embedding `json:"embedding"`
	Language  Language  `json:"language"`
}

type Search struct {
	Semantic       bool     `json:"semantic"`
	TextWeight     float64  `json:"text_weight"`
	SemanticWeight float64  `json:"semantic_weight"`
	SemanticWindow int      `json:"semantic_window"`
	DefaultLimit   int      `json:"default_limit"`
	CacheSize      int      `json:"cache_size"`
	CacheTTL       Duration `json:"cache_ttl"`
}

type Capture struct {
	MonitorText   bool     `json:"monitor_text"`
	MonitorImages bool     `json:"monitor_images"`
	IgnoreApps    []string `json:"ignore_apps"`
	SourceApp     string   `json:"source_app"`
}

type API struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Config is the full configuration tree.
type Config struct {
	DataDir    string     `json:"-"`
	Log        Log        `json:"log"`
	Storage    Storage    `json:"storage"`
	Security   Security   `json:"security"`
	Retention  Retention  `json:"retention"`
	Enrichment Enrichment `json:"enrichment"`
	Search     Search     `json:"search"`
	Capture    Capture    `json:"capture"`
	API        API        `json:"api"`
}

// DataDir resolves the data directory: $CLIPMIND_HOME, $XDG_DATA_HOME/clipmind,
// then ~/.local/share/clipmind.
func DataDir() string {
	if d := os.Getenv(envPrefix + "HOME"); d != "" {
		return d
	}
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "clipmind")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "clipmind")
	}
	return filepath.Join(home, ".local", "share", "clipmind")
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir: dataDir,
		Log:     Log{Level: "info", Format: "console"},
		Storage: Storage{
			Path:          filepath.Join(dataDir, "clipmind.db"),
			BusyRetries:   5,
			BusyRetryBase: Duration{20 * time.Millisecond},
		},
		Security: Security{
			PasswordPolicy:      string(security.PolicyEncrypt),
			AutoDetectPasswords: true,
			PasswordTimeout:     Duration{300 * time.Second},
			KeyMode:             "file",
			KeyPath:             filepath.Join(dataDir, "master.key"),
			SaltPath:            filepath.Join(dataDir, "master.salt"),
		},
		Retention: Retention{
			MaxItems: 1000,
			MaxAge:   Duration{30 * 24 * time.Hour},
			Interval: Duration{time.Hour},
		},
		Enrichment: Enrichment{
			OCR: OCR{
				Enabled:   true,
				Backend:   "tesseract",
				Languages: "spa+eng",
				Timeout:   Duration{60 * time.Second},
				Grace:     Duration{5 * time.Second},
			},
			Embedding: Embedding{
				Backend:    "hash",
				Dimensions: 384,
				OllamaURL:  "http://127.0.0.1:11434",
				Model:      "all-minilm",
				Timeout:    Duration{30 * time.Second},
			},
			Language: Language{Backend: "keyword"},
		},
		Search: Search{
			Semantic:       true,
			TextWeight:     0.7,
			SemanticWeight: 0.3,
			SemanticWindow: 500,
			DefaultLimit:   20,
			CacheSize:      256,
			CacheTTL:       Duration{10 * time.Minute},
		},
		Capture: Capture{MonitorText: true, MonitorImages: true, SourceApp: "system"},
		API:     API{Addr: "127.0.0.1:7766"},
	}
}

// Load builds the configuration. path may be empty, in which case
// $CLIPMIND_CONFIG or <data dir>/config.json is used if it exists.
func Load(path string) (*Config, error) {
	dataDir := DataDir()
	cfg := Default(dataDir)

	explicit := path != ""
	if !explicit {
		if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
			path, explicit = p, true
		} else {
			path = filepath.Join(dataDir, "config.json")
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(envPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: invalid integer %q", envPrefix, key, v))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *Duration) {
		if v := os.Getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: invalid duration %q (use 30s, 1h)", envPrefix, key, v))
				return
			}
			dst.Duration = d
		}
	}

	str("DB", &c.Storage.Path)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)
	str("PASSWORD_POLICY", &c.Security.PasswordPolicy)
	boolean("AUTO_DETECT_PASSWORDS", &c.Security.AutoDetectPasswords)
	str("KEY_MODE", &c.Security.KeyMode)
	str("KEY_PATH", &c.Security.KeyPath)
	integer("MAX_ITEMS", &c.Retention.MaxItems)
	duration("RETENTION_MAX_AGE", &c.Retention.MaxAge)
	duration("CLEANUP_INTERVAL", &c.Retention.Interval)
	boolean("OCR_ENABLED", &c.Enrichment.OCR.Enabled)
	str("OCR_LANGUAGES", &c.Enrichment.OCR.Languages)
	str("EMBEDDING_BACKEND", &c.Enrichment.Embedding.Backend)
	str("OLLAMA_URL", &c.Enrichment.Embedding.OllamaURL)
	str("EMBEDDING_MODEL", &c.Enrichment.Embedding.Model)
	boolean("SEMANTIC_SEARCH", &c.Search.Semantic)
	str("API_ADDR", &c.API.Addr)
	if v := os.Getenv(envPrefix + "IGNORE_APPS"); v != "" {
		c.Capture.IgnoreApps = splitList(v)
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects unknown enum values and negative sizes.
func (c *Config) Validate() error {
	var errs []error
	if _, err := security.ParsePasswordPolicy(c.Security.PasswordPolicy); err != nil {
		errs = append(errs, err)
	}
	if !oneOf(c.Security.KeyMode, "file", "passphrase") {
		errs = append(errs, fmt.Errorf("security.key_mode: unknown mode %q", c.Security.KeyMode))
	}
	if !oneOf(c.Log.Format, "console", "json") {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if !oneOf(c.Enrichment.OCR.Backend, "tesseract", "none") {
		errs = append(errs, fmt.Errorf("enrichment.ocr.backend: unknown backend %q", c.Enrichment.OCR.Backend))
	}
	if !oneOf(c.Enrichment.Embedding.Backend, "hash", "ollama", "none") {
		errs = append(errs, fmt.Errorf("enrichment.embedding.backend: unknown backend %q", c.Enrichment.Embedding.Backend))
	}
	if !oneOf(c.Enrichment.Language.Backend, "keyword", "none") {
		errs = append(errs, fmt.Errorf("enrichment.language.backend: unknown backend %q", c.Enrichment.Language.Backend))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	for name, v := range map[string]int{
		"storage.busy_retries":            c.Storage.BusyRetries,
		"retention.max_items":             c.Retention.MaxItems,
		"enrichment.embedding.dimensions": c.Enrichment.Embedding.Dimensions,
		"search.semantic_window":          c.Search.SemanticWindow,
		"search.default_limit":            c.Search.DefaultLimit,
		"search.cache_size":               c.Search.CacheSize,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative (got %d)", name, v))
		}
	}
	for name, d := range map[string]Duration{
		"retention.max_age":  c.Retention.MaxAge,
		"retention.interval": c.Retention.Interval,
	} {
		if d.Duration < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Search.TextWeight < 0 || c.Search.SemanticWeight < 0 {
		errs = append(errs, errors.New("search weights must not be negative"))
	}
	return errors.Join(errs...)
}

// PasswordPolicy returns the parsed policy; call after Validate.
func (c *Config) PasswordPolicy() security.PasswordPolicy {
	p, _ := security.ParsePasswordPolicy(c.Security.PasswordPolicy)
	return p
}

// Write saves the configuration as indented JSON.
func (c *Config) Write(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
