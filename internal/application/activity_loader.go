package application

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

// ActivityLoader provides YAML configuration parsing, validation, and
// caching for activity policies.
// Use ActivityLoader to load policies from files or readers while
// benefiting from SHA256-based caching and strict validation.
type ActivityLoader struct {
	// validator performs struct field validation and the custom semver
	// and nonincreasing rules.
	validator *validator.Validate
	// cache stores built activities indexed by SHA256 hash of the
	// normalized configuration.
	// Cached activities MUST NOT be mutated.
	cache   map[string]*Activity
	cacheMu sync.RWMutex
	// sf collapses concurrent loads of the same configuration.
	sf singleflight.Group
}

// NewActivityLoader creates a loader with an empty cache.
// NewActivityLoader returns an error if validator registration fails.
func NewActivityLoader() (*ActivityLoader, error) {
	v := validator.New()
	if err := registerCustomValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	return &ActivityLoader{
		validator: v,
		cache:     make(map[string]*Activity),
	}, nil
}

// LoadFromFile loads an activity policy from a YAML file.
// The returned activity is shared with the cache and must not be mutated.
func (l *ActivityLoader) LoadFromFile(path string) (*Activity, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ports.NewConfigError(path, ports.ErrConfigNotFound)
	}
	if err != nil {
		return nil, ports.NewConfigError(path, fmt.Errorf("failed to read file: %w", err))
	}
	return l.load(data)
}

// LoadFromReader loads an activity policy from r.
// The returned activity is shared with the cache and must not be mutated.
func (l *ActivityLoader) LoadFromReader(r io.Reader) (*Activity, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	return l.load(data)
}

// load parses and normalizes data before hashing, so documents that differ
// only in formatting, key order or name case share one cache entry.
func (l *ActivityLoader) load(data []byte) (*Activity, error) {
	config, err := parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %w", domain.ErrInvalidConfiguration, err)
	}
	if err := normalizeNames(config); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	config.applyDefaults()

	hash, err := calculateConfigHash(config)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}

	v, err, _ := l.sf.Do(hash, func() (any, error) {
		if activity, ok := l.getCached(hash); ok {
			return activity, nil
		}
		if err := l.validateConfig(config); err != nil {
			return nil, fmt.Errorf("%w: validation failed: %w", domain.ErrInvalidConfiguration, err)
		}
		activity := &Activity{
			Config: *config,
			Scale:  domain.NewBonusScale(config.BonusScale),
			Hash:   hash,
		}
		l.store(hash, activity)
		return activity, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Activity), nil
}

// parseYAML decodes data strictly: unknown fields are errors.
func parseYAML(data []byte) (*ActivityConfig, error) {
	config := DefaultActivityConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}
	return &config, nil
}

func (l *ActivityLoader) validateConfig(config *ActivityConfig) error {
	if err := l.validator.Struct(config); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}
	if err := validateSemantics(config); err != nil {
		return fmt.Errorf("semantic validation failed: %w", err)
	}
	return nil
}

// calculateConfigHash computes the SHA256 of the re-encoded configuration.
func calculateConfigHash(config *ActivityConfig) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(config); err != nil {
		return "", fmt.Errorf("failed to encode config for hashing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config for hashing: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func (l *ActivityLoader) getCached(hash string) (*Activity, bool) {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()
	a, ok := l.cache[hash]
	return a, ok
}

func (l *ActivityLoader) store(hash string, a *Activity) {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	l.cache[hash] = a
}

// CacheSize returns the number of cached activities.
func (l *ActivityLoader) CacheSize() int {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()
	return len(l.cache)
}

// ClearCache drops every cached activity.
func (l *ActivityLoader) ClearCache() {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	l.cache = make(map[string]*Activity)
}
