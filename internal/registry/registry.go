// Package registry holds the media types known to the process and resolves
// the one selected by configuration.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/search"
)

// SettingName is the configuration key that selects the active media type.
const SettingName = "CHUNKED_MEDIA_MODEL"

const (
	DefaultAppLabel  = "chunked_media"
	DefaultModelName = "Media"
)

// ErrImproperlyConfigured is matched by every ConfigurationError.
var ErrImproperlyConfigured = errors.New("improperly configured")

// ConfigurationError reports a media type setting that cannot be used.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrImproperlyConfigured
}

// Model describes a concrete media type.
type Model struct {
	AppLabel    string
	Name        string
	VerboseName string

	// FormFields are the fields an editor may change.
	FormFields   []string
	SearchFields []search.Field

	New func() models.Record

	// Clean runs after the built-in validation, if set.
	Clean func(models.Record) error
}

// Label returns "app_label.Name".
func (m *Model) Label() string {
	return m.AppLabel + "." + m.Name
}

// Editable reports whether field is one of the form fields.
func (m *Model) Editable(field string) bool {
	for _, f := range m.FormFields {
		if f == field {
			return true
		}
	}
	return false
}

// Validate runs the record checks followed by the model's Clean hook.
func (m *Model) Validate(r models.Record) error {
	if err := r.Base().Validate(); err != nil {
		return err
	}
	if m.Clean != nil {
		return m.Clean(r)
	}
	return nil
}

// DefaultModel is the built-in media type.
func DefaultModel() *Model {
	return &Model{
		AppLabel:    DefaultAppLabel,
		Name:        DefaultModelName,
		VerboseName: "media",
		FormFields: []string{
			"title",
			"file",
			"collection",
			"width",
			"height",
			"thumbnail",
			"tags",
		},
		SearchFields: search.DefaultMediaFields(),
		New:          func() models.Record { return &models.Media{} },
	}
}

type key struct {
	appLabel string
	name     string
}

// Registry maps (app label, model name) pairs to models. It is filled at
// startup and only read afterwards.
type Registry struct {
	mu     sync.RWMutex
	models map[key]*Model
}

// New returns a registry holding the default model.
func New() *Registry {
	r := &Registry{models: make(map[key]*Model)}
	_ = r.Register(DefaultModel())
	return r
}

func keyOf(appLabel, name string) key {
	return key{appLabel: appLabel, name: strings.ToLower(name)}
}

// Register adds a model. Registering the same pair twice is an error.
func (r *Registry) Register(m *Model) error {
	if m == nil || m.AppLabel == "" || m.Name == "" {
		return fmt.Errorf("model needs an app label and a name")
	}
	if m.New == nil {
		return fmt.Errorf("model %s has no constructor", m.Label())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := keyOf(m.AppLabel, m.Name)
	if _, exists := r.models[k]; exists {
		return fmt.Errorf("model %s is already registered", m.Label())
	}
	r.models[k] = m
	return nil
}

// Lookup finds a model. The app label must match exactly; the model name is
// compared case-insensitively.
func (r *Registry) Lookup(appLabel, name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[keyOf(appLabel, name)]
	return m, ok
}

// Labels lists every registered model label, sorted.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	labels := make([]string, 0, len(r.models))
	for _, m := range r.models {
		labels = append(labels, m.Label())
	}
	sort.Strings(labels)
	return labels
}

// Default returns the registered default model, or the built-in one when
// it was never registered. It is what an unset setting selects.
func Default(r *Registry) *Model {
	if m, ok := r.Lookup(DefaultAppLabel, DefaultModelName); ok {
		return m
	}
	return DefaultModel()
}

// Resolve returns the media type named by a setting that is present. Blank
// values are not "app_label.model_name" pairs and fail like any other
// malformed value; callers use Default when the setting is unset.
func Resolve(r *Registry, setting string) (*Model, error) {
	parts := strings.Split(setting, ".")
	if len(parts) != 2 {
		return nil, &ConfigurationError{
			Setting: setting,
			Reason:  SettingName + " must be of the form 'app_label.model_name'",
		}
	}

	m, ok := r.Lookup(parts[0], parts[1])
	if !ok {
		return nil, &ConfigurationError{
			Setting: setting,
			Reason: fmt.Sprintf("%s refers to model '%s' that has not been installed (installed: %s)",
				SettingName, setting, strings.Join(r.Labels(), ", ")),
		}
	}
	return m, nil
}
