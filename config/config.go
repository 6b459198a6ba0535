package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

// Storage backends accepted by RAW_STORAGE_BACKEND.
const (
	BackendS3  = "s3"
	BackendGCS = "gcs"
)

// Settings holds the configuration of a single watch run. It is passed by
// value and never mutated once loaded.
type Settings struct {
	Domain         string        `validate:"required,hostname_port|hostname_rfc1123"`
	DatasetID      string        `validate:"required"`
	LookbackHours  int           `validate:"gt=0"`
	PageLimit      int           `validate:"gt=0"`
	MaxPages       int           `validate:"gt=0"`
	RawBucket      string        // empty selects the local destination
	RawPrefix      string        `validate:"required_with=RawBucket"`
	StorageBackend string        `validate:"oneof=s3 gcs"`
	LocalDir       string        `validate:"required"`
	RequestTimeout time.Duration `validate:"gt=0"`
	UserAgent      string        `validate:"required"`
	AppToken       string
	PushgatewayURL string `validate:"omitempty,url"`
	Verbose        bool
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		Domain:         "data.texas.gov",
		DatasetID:      "qh8x-rm8r",
		LookbackHours:  24,
		PageLimit:      1000,
		MaxPages:       2,
		RawPrefix:      "raw",
		StorageBackend: BackendS3,
		LocalDir:       "data/raw",
		RequestTimeout: 30 * time.Second,
		UserAgent:      "go-soda-watch/1.0",
	}
}

// LookupFunc resolves an environment variable; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadFromEnv reads settings from the process environment.
func LoadFromEnv() (Settings, error) {
	return Load(os.LookupEnv)
}

// Load builds settings from defaults overridden by lookup. Every malformed
// integer is reported, not just the first one.
func Load(lookup LookupFunc) (Settings, error) {
	s := DefaultSettings()
	if lookup == nil {
		return s, nil
	}

	if v, ok := envString(lookup, "SODA_DOMAIN"); ok {
		s.Domain = v
	}
	if v, ok := envString(lookup, "DATASET_ID"); ok {
		s.DatasetID = v
	}
	if v, ok := envString(lookup, "RAW_BUCKET"); ok {
		s.RawBucket = v
	}
	if v, ok := envString(lookup, "RAW_PREFIX"); ok {
		s.RawPrefix = strings.Trim(v, "/")
	}
	if v, ok := envString(lookup, "RAW_STORAGE_BACKEND"); ok {
		s.StorageBackend = strings.ToLower(v)
	}
	if v, ok := envString(lookup, "RAW_LOCAL_DIR"); ok {
		s.LocalDir = v
	}
	if v, ok := envString(lookup, "SODA_APP_TOKEN"); ok {
		s.AppToken = v
	}
	if v, ok := envString(lookup, "PUSHGATEWAY_URL"); ok {
		s.PushgatewayURL = v
	}

	var result *multierror.Error
	ints := []struct {
		key string
		dst *int
	}{
		{"LOOKBACK_HOURS", &s.LookbackHours},
		{"PAGE_LIMIT", &s.PageLimit},
		{"MAX_PAGES", &s.MaxPages},
	}
	for _, item := range ints {
		value, ok, err := envInt(lookup, item.key)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if ok {
			*item.dst = value
		}
	}

	timeout, ok, err := envInt(lookup, "REQUEST_TIMEOUT_SECONDS")
	if err != nil {
		result = multierror.Append(result, err)
	} else if ok {
		s.RequestTimeout = time.Duration(timeout) * time.Second
	}

	return s, result.ErrorOrNil()
}

func envString(lookup LookupFunc, key string) (string, bool) {
	raw, ok := lookup(key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	return value, true
}

func envInt(lookup LookupFunc, key string) (int, bool, error) {
	raw, ok := envString(lookup, key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// Validate ensures all configuration values are coherent.
func (s Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
