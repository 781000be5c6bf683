package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/srfgo/internal/dispatch"
)

func TestNewRejectsFailingRegister(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(Config{Service: "opensrf.math"}, nil, func(r *dispatch.Registry) error {
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestNewBuildsRegistryFromRegisterFunc(t *testing.T) {
	var sawRegistry *dispatch.Registry
	rt, err := New(Config{Service: "opensrf.math"}, nil, func(r *dispatch.Registry) error {
		sawRegistry = r
		return r.RegisterApplication("opensrf.math", nil)
	})
	require.NoError(t, err)
	assert.NotNil(t, rt.registry)
	assert.Same(t, sawRegistry, rt.registry)
}
