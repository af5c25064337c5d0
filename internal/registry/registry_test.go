package registry_test

import (
	"errors"
	"testing"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type customMedia struct {
	models.Media
	Licence string
}

func customModel() *registry.Model {
	m := registry.DefaultModel()
	m.AppLabel = "podcasts"
	m.Name = "Episode"
	m.New = func() models.Record { return &customMedia{} }
	m.FormFields = []string{"title", "file"}
	return m
}

func TestDefault(t *testing.T) {
	reg := registry.New()
	m := registry.Default(reg)
	assert.Equal(t, "chunked_media.Media", m.Label())

	same, err := registry.Resolve(reg, "chunked_media.Media")
	require.NoError(t, err)
	assert.Same(t, m, same)

	assert.Equal(t, "chunked_media.Media", registry.Default(&registry.Registry{}).Label())
}

func TestResolveRegistered(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(customModel()))

	m, err := registry.Resolve(reg, "podcasts.Episode")
	require.NoError(t, err)
	assert.Equal(t, "podcasts.Episode", m.Label())

	_, isCustom := m.New().(*customMedia)
	assert.True(t, isCustom)

	lower, err := registry.Resolve(reg, "podcasts.episode")
	require.NoError(t, err)
	assert.Same(t, m, lower)

	def, err := registry.Resolve(reg, "chunked_media.Media")
	require.NoError(t, err)
	assert.Equal(t, "chunked_media.Media", def.Label())
}

func TestResolveErrors(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(customModel()))

	cases := []string{
		"podcasts",
		"podcasts.Episode.extra",
		"a.b.c.d",
		"missing.Model",
		"Podcasts.Episode",
		".",
		"",
		"   ",
	}
	for _, setting := range cases {
		m, err := registry.Resolve(reg, setting)
		assert.Nil(t, m, setting)
		require.Error(t, err, setting)
		assert.True(t, errors.Is(err, registry.ErrImproperlyConfigured), setting)

		var cfgErr *registry.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, setting, cfgErr.Setting)
	}

	_, err := registry.Resolve(reg, "podcasts")
	assert.Contains(t, err.Error(), "must be of the form 'app_label.model_name'")
	_, err = registry.Resolve(reg, "missing.Model")
	assert.Contains(t, err.Error(), "has not been installed")
	assert.Contains(t, err.Error(), "installed: chunked_media.Media, podcasts.Episode")
	_, err = registry.Resolve(reg, "")
	assert.Contains(t, err.Error(), "must be of the form")
}

func TestRegisterDuplicate(t *testing.T) {
	reg := registry.New()
	assert.Error(t, reg.Register(registry.DefaultModel()))
	assert.Error(t, reg.Register(&registry.Model{AppLabel: "x"}))
	assert.Equal(t, []string{"chunked_media.Media"}, reg.Labels())
}

func TestModelValidate(t *testing.T) {
	m := customModel()
	m.Clean = func(r models.Record) error {
		if r.(*customMedia).Licence == "" {
			return &models.ValidationError{Field: "licence", Message: "required"}
		}
		return nil
	}
	rec := &customMedia{Media: models.Media{Title: "Pilot", File: "media/pilot.mp3", Kind: models.KindAudio}}
	assert.Error(t, m.Validate(rec))
	rec.Licence = "cc-by"
	assert.NoError(t, m.Validate(rec))
	assert.True(t, m.Editable("title"))
	assert.False(t, m.Editable("tags"))
}
