package assets

import (
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamesListsBundledScripts(t *testing.T) {
	assert.Equal(t, []string{DefaultShim, DefaultEngine}, Names())
}

func TestOpenReturnsEngineSource(t *testing.T) {
	r, err := Open(DefaultEngine)
	require.NoError(t, err)
	defer r.Close()

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "less.Parser = Parser"), "engine must expose less.Parser")
}

func TestOpenUnknownScript(t *testing.T) {
	_, err := Open("missing.js")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
