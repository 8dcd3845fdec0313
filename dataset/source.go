package dataset

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceURL       = "url"
	SourceFilesGlob = "filesGlob"
)

// Prepare step formats.
const (
	FormatZip  = "zip"
	FormatGzip = "gzip"
	FormatXz   = "xz"
)

// Source ordering for filesGlob sources.
const OrderByName = "byName"

// Source describes an external data source and how to fetch it. Kind selects
// the variant; the remaining fields apply to the variants that name them.
type Source struct {
	// Kind is one of url or filesGlob.
	Kind string `yaml:"kind"`
	// URL is the http(s) or ftp endpoint for url sources.
	URL string `yaml:"url,omitempty"`
	// Path is the local glob pattern for filesGlob sources.
	Path string `yaml:"path,omitempty"`
	// Order is the ingestion order for filesGlob sources.
	Order string `yaml:"order,omitempty"`
	// EventTime describes how to derive an entry's covered interval.
	EventTime *EventTimeSource `yaml:"eventTime,omitempty"`
	// Prepare lists steps applied to fetched bytes before staging.
	Prepare []PrepStep `yaml:"prepare,omitempty"`
}

// EventTimeSource derives the time interval an entry covers from its name.
// Pattern must contain one capture group (interval start, with End = start
// plus Period) or two (start and end).
type EventTimeSource struct {
	Kind    string   `yaml:"kind"` // fromPath
	Pattern string   `yaml:"pattern"`
	Layout  string   `yaml:"layout"`
	Period  Duration `yaml:"period,omitempty"`
}

// PrepStep is a preparation step applied to fetched bytes.
type PrepStep struct {
	Kind string `yaml:"kind"` // decompress
	// Format is one of zip, gzip, or xz.
	Format string `yaml:"format"`
	// SubPath filters zip entries by glob; empty keeps all entries.
	SubPath string `yaml:"subPath,omitempty"`
}

// Duration is a time.Duration with yaml support ("24h", "15m").
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Validate checks the source descriptor for structural errors.
func (s *Source) Validate() error {
	switch s.Kind {
	case SourceURL:
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("invalid source url: %w", err)
		}
		switch u.Scheme {
		case "http", "https", "ftp":
		default:
			return fmt.Errorf("unsupported url scheme %q", u.Scheme)
		}
	case SourceFilesGlob:
		if _, err := filepath.Match(s.Path, ""); err != nil {
			return fmt.Errorf("invalid source glob %q: %w", s.Path, err)
		}
		if s.Order != "" && s.Order != OrderByName {
			return fmt.Errorf("unsupported source order %q", s.Order)
		}
	default:
		return fmt.Errorf("unsupported source kind %q", s.Kind)
	}
	if s.EventTime != nil {
		if err := s.EventTime.validate(); err != nil {
			return err
		}
	}
	for _, p := range s.Prepare {
		if p.Kind != "decompress" {
			return fmt.Errorf("unsupported prepare step %q", p.Kind)
		}
		switch p.Format {
		case FormatZip, FormatGzip, FormatXz:
		default:
			return fmt.Errorf("unsupported decompress format %q", p.Format)
		}
	}
	return nil
}

func (e *EventTimeSource) validate() error {
	if e.Kind != "fromPath" {
		return fmt.Errorf("unsupported event time kind %q", e.Kind)
	}
	re, err := regexp.Compile(e.Pattern)
	if err != nil {
		return fmt.Errorf("invalid event time pattern: %w", err)
	}
	switch re.NumSubexp() {
	case 1:
		if e.Period <= 0 {
			return fmt.Errorf("event time pattern with one capture requires a period")
		}
	case 2:
	default:
		return fmt.Errorf("event time pattern must have one or two captures, has %d", re.NumSubexp())
	}
	return nil
}
