package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garescout/tender-cli/internal/config"
	"github.com/garescout/tender-cli/internal/model"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(config.IdentityConfig{
		Platforms: map[string]config.PlatformRule{
			"mef":  {CodeLength: 10},
			"aria": {CodePattern: `^ARIA_\d{4}_\d+(_[A-Z])?$`},
		},
	})
	require.NoError(t, err)
	return r
}

func raw(values map[string]string) model.RawTender {
	return model.RawTender{Values: values}
}

func TestResolvePrefersReferenceCode(t *testing.T) {
	r := newResolver(t)

	key, err := r.Resolve("mef", raw(map[string]string{
		model.RawFieldReferenceCode: "a1b2c3d4e5",
		model.RawFieldBandoNumber:   "12345",
		model.RawFieldDetailURL:     "https://example.org/gara/1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "cig:A1B2C3D4E5", key)
}

func TestResolvePlatformPattern(t *testing.T) {
	r := newResolver(t)

	key, err := r.Resolve("aria", raw(map[string]string{
		model.RawFieldReferenceCode: "ARIA_2026_187",
	}))
	require.NoError(t, err)
	assert.Equal(t, "cig:ARIA_2026_187", key)

	// A candidate that fails the platform pattern falls through.
	key, err = r.Resolve("aria", raw(map[string]string{
		model.RawFieldReferenceCode: "NOT-A-CODE",
		model.RawFieldBandoNumber:   "98765",
	}))
	require.NoError(t, err)
	assert.Equal(t, "aria:bando:98765", key)
}

func TestResolveBandoIsNamespaced(t *testing.T) {
	r := newResolver(t)

	mef, err := r.Resolve("mef", raw(map[string]string{model.RawFieldBandoNumber: "4242"}))
	require.NoError(t, err)
	aria, err := r.Resolve("aria", raw(map[string]string{model.RawFieldBandoNumber: "4242"}))
	require.NoError(t, err)

	assert.Equal(t, "mef:bando:4242", mef)
	assert.NotEqual(t, mef, aria)
}

func TestResolveURLHashFallback(t *testing.T) {
	r := newResolver(t)

	a, err := r.Resolve("toscana", raw(map[string]string{
		model.RawFieldDetailURL: "https://start.toscana.it/gara/77?jsessionid=ABC123",
	}))
	require.NoError(t, err)

	b, err := r.Resolve("toscana", raw(map[string]string{
		model.RawFieldDetailURL: "HTTPS://START.TOSCANA.IT/gara/77/?utm_source=feed#dettaglio",
	}))
	require.NoError(t, err)

	// Session params, tracking params, casing, fragment and trailing slash
	// never change identity.
	assert.Equal(t, a, b)
	assert.Contains(t, a, "toscana:url:")
}

func TestResolveNoIdentifier(t *testing.T) {
	r := newResolver(t)

	_, err := r.Resolve("mef", raw(map[string]string{model.RawFieldTitle: "senza identità"}))
	assert.Error(t, err)
}

func TestNormalizeURL(t *testing.T) {
	got, err := NormalizeURL("HTTP://Example.org/Path/?sid=1&q=a&token=x")
	require.NoError(t, err)
	assert.Equal(t, "http://example.org/Path?q=a", got)

	_, err = NormalizeURL("not a url at all://")
	assert.Error(t, err)
}
