package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	evalFile = ""
	t.Cleanup(func() { evalFile = "" })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestEvalArgument(t *testing.T) {
	out, err := runCLI(t, "", "eval", "({ sum: 1 + 1, tags: ['a'] })")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"sum\": 2,\n  \"tags\": [\n    \"a\"\n  ]\n}\n", out)
}

func TestEvalKeepsMarkupUnescaped(t *testing.T) {
	out, err := runCLI(t, "", "eval", `({ html: "<p>a & b</p>" })`)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"html\": \"<p>a & b</p>\"\n}\n", out)
}

func TestEvalStdinAndFile(t *testing.T) {
	out, err := runCLI(t, `"from stdin"`, "eval", "-")
	require.NoError(t, err)
	assert.Equal(t, "\"from stdin\"\n", out)

	script := filepath.Join(t.TempDir(), "script.js")
	require.NoError(t, os.WriteFile(script, []byte("[1, 2.5]"), 0644))

	out, err = runCLI(t, "", "eval", "--file", script)
	require.NoError(t, err)
	assert.Equal(t, "[\n  1,\n  2.5\n]\n", out)
}

func TestEvalErrors(t *testing.T) {
	_, err := runCLI(t, "", "eval")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no code given")

	_, err = runCLI(t, "", "eval", "undefined")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot deserialize value")
}
