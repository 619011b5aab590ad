package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-account/config"
)

func TestWarnEphemeralSession(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	a := &app{cfg: &config.Config{}, logger: zap.New(core)}

	assert.False(t, a.warnEphemeralSession("register", ""))
	assert.Empty(t, logs.All())

	assert.True(t, a.warnEphemeralSession("profile", "h1"))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "h1", entries[0].ContextMap()["session"])

	a.cfg.Redis.URL = "redis://localhost:6379/0"
	assert.False(t, a.warnEphemeralSession("profile", "h1"))
	assert.Len(t, logs.All(), 1)
}
