package klog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredOutputCarriesName(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Configure(Options{Level: "debug", Structured: true, Output: &buf}))
	defer Configure(Options{})

	NamedSubLogger("sched").Infof("hart %d idle", 2)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sched", line["name"])
	assert.Equal(t, "hart 2 idle", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Configure(Options{Level: "warn", Structured: true, Output: &buf}))
	defer Configure(Options{})

	l := NamedSubLogger("proc")
	assert.False(t, l.Enabled(zerolog.DebugLevel))
	called := false
	l.Debug(func(e *zerolog.Event) { called = true })
	l.Debugf("dropped")
	assert.False(t, called)
	assert.Zero(t, buf.Len())
}

func TestBadLevel(t *testing.T) {
	assert.Error(t, Configure(Options{Level: "loud"}))
}
