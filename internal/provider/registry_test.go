package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	Provider
	settings *Settings
}

func TestRegistryLoadAndGet(t *testing.T) {
	r := NewRegistry()

	var got *Settings
	r.Register("stub", func(settings *Settings) (Provider, error) {
		got = settings
		return &stubProvider{settings: settings}, nil
	})

	settings := &Settings{Region: "eu-west-1", Endpoint: "http://localhost:4566"}
	require.NoError(t, r.Load("stub", settings))
	assert.Same(t, settings, got)

	p, err := r.Get("stub")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestRegistryLoadIsIdempotent(t *testing.T) {
	r := NewRegistry()

	calls := 0
	r.Register("stub", func(*Settings) (Provider, error) {
		calls++
		return &stubProvider{}, nil
	})

	require.NoError(t, r.Load("stub", nil))
	require.NoError(t, r.Load("stub", nil))
	assert.Equal(t, 1, calls)
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	err := r.Load("nope", nil)
	require.Error(t, err)

	_, err = r.Get("nope")
	require.Error(t, err)
}

func TestRegistryFactoryFailure(t *testing.T) {
	r := NewRegistry()
	r.Register("bad", func(*Settings) (Provider, error) {
		return nil, errors.New("no credentials")
	})
	err := r.Load("bad", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}
