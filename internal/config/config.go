// Package config loads and validates the application configuration.
//
// Configuration is read from a base YAML file plus an optional
// local_config.yaml next to it holding secrets and machine-local
// overrides. The local file wins field by field. Unknown keys in either
// file are rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tgmusic/internal/domain"
)

const (
	// LocalOverrideName is looked up in the base config's directory.
	LocalOverrideName = "local_config.yaml"

	defaultTemplate   = "{original_name}_{message_id}"
	defaultDateFormat = "20060102_150405"
)

// Config is the validated runtime configuration. Sizes are in bytes and
// dates are UTC day bounds; all unit conversion happens in Load, nowhere
// else.
type Config struct {
	APIID       int
	APIHash     string
	SessionPath string

	Channels []string

	DownloadDir    string
	MessageDelay   time.Duration
	MaxFilesPerRun int

	NamingTemplate string
	DateFormat     string // Go reference layout
	NormalizeNames bool

	Filters Filters

	TrackerPath string
	CatalogPath string

	LogLevel   string
	LogFile    string
	LogConsole bool
}

// Filters holds the media filter criteria. Zero values mean "criterion
// inactive": empty slices impose no restriction, MaxSize 0 is unbounded,
// zero times are open date bounds.
type Filters struct {
	Kinds      []domain.MediaKind
	Extensions []string // lowercase, with leading dot
	MinSize    int64    // bytes, inclusive
	MaxSize    int64    // bytes, inclusive; 0 = unbounded
	DateFrom   time.Time // UTC midnight, inclusive
	DateTo     time.Time // UTC midnight, inclusive
}

// rawConfig mirrors the YAML structure. Pointer fields distinguish
// "absent" from zero values so the local override can be merged
// field-wise.
type rawConfig struct {
	Telegram *struct {
		APIID       *int    `yaml:"api_id"`
		APIHash     *string `yaml:"api_hash"`
		SessionName *string `yaml:"session_name"`
	} `yaml:"telegram"`
	Channels []string `yaml:"channels"`
	Download *struct {
		OutputDir              *string  `yaml:"output_dir"`
		TimeoutBetweenMessages *float64 `yaml:"timeout_between_messages"`
		MaxFilesPerRun         *int     `yaml:"max_files_per_run"`
	} `yaml:"download"`
	Naming *struct {
		Template   *string `yaml:"template"`
		DateFormat *string `yaml:"date_format"`
	} `yaml:"naming"`
	Filters *struct {
		FileTypes []string `yaml:"file_types"`
		Formats   []string `yaml:"formats"`
		Size      *struct {
			MinMB *float64 `yaml:"min_mb"`
			MaxMB *float64 `yaml:"max_mb"`
		} `yaml:"size"`
		Date *struct {
			From *string `yaml:"from"`
			To   *string `yaml:"to"`
		} `yaml:"date"`
	} `yaml:"filters"`
	Tracker *struct {
		Path *string `yaml:"path"`
	} `yaml:"tracker"`
	Catalog *struct {
		Path *string `yaml:"path"`
	} `yaml:"catalog"`
	Logging *struct {
		Level   *string `yaml:"level"`
		File    *string `yaml:"file"`
		Console *bool   `yaml:"console"`
	} `yaml:"logging"`
	NormalizeTrackNames *bool `yaml:"normalize_track_names"`
}

// Load reads the base config file, merges the local override if present,
// and returns a validated Config.
func Load(path string) (*Config, error) {
	base, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	localPath := filepath.Join(filepath.Dir(path), LocalOverrideName)
	if _, statErr := os.Stat(localPath); statErr == nil {
		local, localErr := decodeFile(localPath)
		if localErr != nil {
			return nil, localErr
		}
		merge(base, local)
	}

	return build(base)
}

func decodeFile(path string) (*rawConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var raw rawConfig
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &raw, nil
}

// merge applies the local override onto the base, field by field. A
// section present in the override replaces only the fields it sets.
func merge(base, over *rawConfig) {
	if over.Telegram != nil {
		if base.Telegram == nil {
			base.Telegram = over.Telegram
		} else {
			setIf(&base.Telegram.APIID, over.Telegram.APIID)
			setIf(&base.Telegram.APIHash, over.Telegram.APIHash)
			setIf(&base.Telegram.SessionName, over.Telegram.SessionName)
		}
	}
	if over.Channels != nil {
		base.Channels = over.Channels
	}
	if over.Download != nil {
		if base.Download == nil {
			base.Download = over.Download
		} else {
			setIf(&base.Download.OutputDir, over.Download.OutputDir)
			setIf(&base.Download.TimeoutBetweenMessages, over.Download.TimeoutBetweenMessages)
			setIf(&base.Download.MaxFilesPerRun, over.Download.MaxFilesPerRun)
		}
	}
	if over.Naming != nil {
		if base.Naming == nil {
			base.Naming = over.Naming
		} else {
			setIf(&base.Naming.Template, over.Naming.Template)
			setIf(&base.Naming.DateFormat, over.Naming.DateFormat)
		}
	}
	if over.Filters != nil {
		if base.Filters == nil {
			base.Filters = over.Filters
		} else {
			if over.Filters.FileTypes != nil {
				base.Filters.FileTypes = over.Filters.FileTypes
			}
			if over.Filters.Formats != nil {
				base.Filters.Formats = over.Filters.Formats
			}
			if over.Filters.Size != nil {
				if base.Filters.Size == nil {
					base.Filters.Size = over.Filters.Size
				} else {
					setIf(&base.Filters.Size.MinMB, over.Filters.Size.MinMB)
					setIf(&base.Filters.Size.MaxMB, over.Filters.Size.MaxMB)
				}
			}
			if over.Filters.Date != nil {
				if base.Filters.Date == nil {
					base.Filters.Date = over.Filters.Date
				} else {
					setIf(&base.Filters.Date.From, over.Filters.Date.From)
					setIf(&base.Filters.Date.To, over.Filters.Date.To)
				}
			}
		}
	}
	if over.Tracker != nil {
		base.Tracker = over.Tracker
	}
	if over.Catalog != nil {
		base.Catalog = over.Catalog
	}
	if over.Logging != nil {
		if base.Logging == nil {
			base.Logging = over.Logging
		} else {
			setIf(&base.Logging.Level, over.Logging.Level)
			setIf(&base.Logging.File, over.Logging.File)
			setIf(&base.Logging.Console, over.Logging.Console)
		}
	}
	setIf(&base.NormalizeTrackNames, over.NormalizeTrackNames)
}

func setIf[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

func build(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		NamingTemplate: defaultTemplate,
		DateFormat:     defaultDateFormat,
		LogLevel:       "info",
		LogConsole:     true,
	}

	if raw.Telegram == nil {
		return nil, errors.New("missing section 'telegram'")
	}
	if raw.Telegram.APIID == nil || *raw.Telegram.APIID <= 0 {
		return nil, errors.New("telegram.api_id must be a positive integer")
	}
	cfg.APIID = *raw.Telegram.APIID
	if raw.Telegram.APIHash == nil || strings.TrimSpace(*raw.Telegram.APIHash) == "" {
		return nil, errors.New("telegram.api_hash is required")
	}
	cfg.APIHash = strings.TrimSpace(*raw.Telegram.APIHash)

	sessionName := "downloader_session"
	if raw.Telegram.SessionName != nil && strings.TrimSpace(*raw.Telegram.SessionName) != "" {
		sessionName = strings.TrimSpace(*raw.Telegram.SessionName)
	}
	cfg.SessionPath = filepath.Join("data", "sessions", sessionName+".json")

	if len(raw.Channels) == 0 {
		return nil, errors.New("at least one channel is required")
	}
	for _, ch := range raw.Channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			return nil, errors.New("channels must not contain empty entries")
		}
		cfg.Channels = append(cfg.Channels, ch)
	}

	if raw.Download == nil || raw.Download.OutputDir == nil || strings.TrimSpace(*raw.Download.OutputDir) == "" {
		return nil, errors.New("download.output_dir is required")
	}
	cfg.DownloadDir = filepath.Clean(strings.TrimSpace(*raw.Download.OutputDir))
	if raw.Download.TimeoutBetweenMessages != nil {
		if *raw.Download.TimeoutBetweenMessages < 0 {
			return nil, errors.New("download.timeout_between_messages must not be negative")
		}
		cfg.MessageDelay = time.Duration(*raw.Download.TimeoutBetweenMessages * float64(time.Second))
	}
	if raw.Download.MaxFilesPerRun != nil {
		if *raw.Download.MaxFilesPerRun < 0 {
			return nil, errors.New("download.max_files_per_run must not be negative")
		}
		cfg.MaxFilesPerRun = *raw.Download.MaxFilesPerRun
	}

	if raw.Naming != nil {
		if raw.Naming.Template != nil && strings.TrimSpace(*raw.Naming.Template) != "" {
			cfg.NamingTemplate = strings.TrimSpace(*raw.Naming.Template)
		}
		if raw.Naming.DateFormat != nil && strings.TrimSpace(*raw.Naming.DateFormat) != "" {
			cfg.DateFormat = strings.TrimSpace(*raw.Naming.DateFormat)
		}
	}
	// Distinct messages must never race for the same target path.
	if !strings.Contains(cfg.NamingTemplate, "{message_id}") {
		return nil, errors.New("naming.template must contain {message_id}")
	}

	filters, err := buildFilters(raw)
	if err != nil {
		return nil, err
	}
	cfg.Filters = filters

	cfg.TrackerPath = filepath.Join("data", "tracker.json")
	if raw.Tracker != nil && raw.Tracker.Path != nil && strings.TrimSpace(*raw.Tracker.Path) != "" {
		cfg.TrackerPath = filepath.Clean(strings.TrimSpace(*raw.Tracker.Path))
	}
	cfg.CatalogPath = filepath.Join("data", "catalog.db")
	if raw.Catalog != nil && raw.Catalog.Path != nil && strings.TrimSpace(*raw.Catalog.Path) != "" {
		cfg.CatalogPath = filepath.Clean(strings.TrimSpace(*raw.Catalog.Path))
	}

	if raw.Logging != nil {
		if raw.Logging.Level != nil {
			cfg.LogLevel = strings.ToLower(strings.TrimSpace(*raw.Logging.Level))
		}
		if raw.Logging.File != nil {
			cfg.LogFile = strings.TrimSpace(*raw.Logging.File)
		}
		if raw.Logging.Console != nil {
			cfg.LogConsole = *raw.Logging.Console
		}
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.LogLevel)
	}

	if raw.NormalizeTrackNames != nil {
		cfg.NormalizeNames = *raw.NormalizeTrackNames
	}

	return cfg, nil
}

func buildFilters(raw *rawConfig) (Filters, error) {
	var f Filters
	if raw.Filters == nil {
		return f, nil
	}

	for _, t := range raw.Filters.FileTypes {
		switch kind := domain.MediaKind(strings.ToLower(strings.TrimSpace(t))); kind {
		case domain.KindAudio, domain.KindDocument, domain.KindOther:
			f.Kinds = append(f.Kinds, kind)
		default:
			return f, fmt.Errorf("filters.file_types: unknown kind %q", t)
		}
	}

	for _, ext := range raw.Filters.Formats {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			return f, errors.New("filters.formats must not contain empty entries")
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.Extensions = append(f.Extensions, ext)
	}

	if raw.Filters.Size != nil {
		// Conversion rule, applied once: minimum floors, maximum ceils,
		// so a file exactly on a whole-MB bound always passes.
		if raw.Filters.Size.MinMB != nil {
			if *raw.Filters.Size.MinMB < 0 {
				return f, errors.New("filters.size.min_mb must not be negative")
			}
			f.MinSize = int64(math.Floor(*raw.Filters.Size.MinMB * 1024 * 1024))
		}
		if raw.Filters.Size.MaxMB != nil {
			if *raw.Filters.Size.MaxMB <= 0 {
				return f, errors.New("filters.size.max_mb must be positive")
			}
			f.MaxSize = int64(math.Ceil(*raw.Filters.Size.MaxMB * 1024 * 1024))
		}
		if f.MaxSize > 0 && f.MinSize > f.MaxSize {
			return f, errors.New("filters.size: min_mb exceeds max_mb")
		}
	}

	if raw.Filters.Date != nil {
		var err error
		if raw.Filters.Date.From != nil {
			f.DateFrom, err = parseDay(*raw.Filters.Date.From)
			if err != nil {
				return f, fmt.Errorf("filters.date.from: %w", err)
			}
		}
		if raw.Filters.Date.To != nil {
			f.DateTo, err = parseDay(*raw.Filters.Date.To)
			if err != nil {
				return f, fmt.Errorf("filters.date.to: %w", err)
			}
		}
		if !f.DateFrom.IsZero() && !f.DateTo.IsZero() && f.DateFrom.After(f.DateTo) {
			return f, errors.New("filters.date: from is after to")
		}
	}

	return f, nil
}

func parseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD: %w", err)
	}
	return t, nil
}
