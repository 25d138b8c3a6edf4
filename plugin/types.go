package plugin

import "errors"

// Feature is a self-contained gameplay extension managed by the Manager. Each
// feature registers its own event handlers through the API it is constructed
// with and releases everything it holds in Close.
type Feature interface {
	// Name returns the display name of the feature. It must be unique among
	// enabled features, compared case-insensitively.
	Name() string
	// Close releases all resources held by the feature. It is called once when
	// the feature is disabled or the manager shuts down.
	Close() error
}

// Versioned may be implemented by features to expose a version string.
type Versioned interface {
	Version() string
}

// Factory constructs a Feature using the API passed. The returned Feature is
// enabled immediately and must be ready to handle callbacks.
type Factory[S any] func(api *API[S]) (Feature, error)

// Info describes a feature currently enabled by the manager.
type Info struct {
	Name    string
	Version string
	// Data is the directory holding the feature's persistent files.
	Data string
}

var (
	// ErrAlreadyLoaded is returned when attempting to enable a feature under a
	// name that is already enabled.
	ErrAlreadyLoaded = errors.New("feature already enabled")
	// ErrNameConflict is returned when the name reported by a constructed
	// feature collides with another enabled feature.
	ErrNameConflict = errors.New("feature name already registered")
	// ErrNotFound is returned when attempting to disable or reload a feature that
	// is not currently enabled.
	ErrNotFound = errors.New("feature not found")
	// ErrNilFactory is returned when Enable is called without a factory.
	ErrNilFactory = errors.New("feature factory is nil")
)
