package sut

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sensepost/exconform/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptController(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ssl")
	c := &ScriptController{
		EnableSSL:  "echo on > " + marker,
		DisableSSL: "echo off > " + marker,
	}

	require.NoError(t, c.SetSSL(false))
	b, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "off\n", string(b))

	require.NoError(t, c.SetSSL(true))
	b, err = os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "on\n", string(b))

	c.DisableSSL = "exit 3"
	assert.Error(t, c.SetSSL(false))
}

func TestPromptController(t *testing.T) {
	var out bytes.Buffer
	p := &PromptController{In: strings.NewReader("y\nno\n"), Out: &out}
	require.NoError(t, p.SetSSL(false))
	assert.Contains(t, out.String(), "disable SSL")
	assert.ErrorIs(t, p.SetSSL(true), ErrDeclined)
	assert.Error(t, p.SetSSL(true))
}

func TestNew(t *testing.T) {
	assert.Nil(t, New(utils.SUTConfig{}))
	assert.IsType(t, &PromptController{}, New(utils.SUTConfig{Prompt: true}))
	assert.IsType(t, &ScriptController{}, New(utils.SUTConfig{SSLEnable: "a", SSLDisable: "b", Prompt: true}))
}
