package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDocument = `
profile: SIMPLE_OPTIMIZATIONS
sections:
  - category: scripts
    basedir: src
    outputdir: js
    bundles:
      - name: app.js
        dependency: js/lib.js
        patterns:
          - include: "app/*.js"
      - name: lib.js
        profile: none
        patterns:
          - include: "lib/*.js"
`

const brokenDocument = `
sections:
  - category: scripts
    outputdir: js
    bundles:
      - name: app.js
        dependency: js/missing.js
        patterns:
          - include: "*.js"
      - name: a.js
        dependency: js/b.js
      - name: b.js
        dependency: js/a.js
`

// run executes the root command with args and resets global flag state
// afterwards.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		outputFmt = "table"
		noHeaders = false
		debug = false
		cfgFile = ""
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeDocument(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "assetcache dev")
	assert.Contains(t, out, "Commit: unknown")
}

func TestValidateCommand_Valid(t *testing.T) {
	path := writeDocument(t, "assets.yaml", validDocument)

	out, err := run(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "js/lib.js > js/app.js")
	assert.Contains(t, out, "2 bundles OK")
}

func TestValidateCommand_JSON(t *testing.T) {
	path := writeDocument(t, "assets.yaml", validDocument)

	out, err := run(t, "validate", path, "-o", "json")
	require.NoError(t, err)

	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "js/app.js", rows[0]["BUNDLE"])
	assert.Equal(t, "scripts", rows[0]["CATEGORY"])
	assert.Equal(t, "SIMPLE_OPTIMIZATIONS", rows[0]["PROFILE"])
	assert.Equal(t, "ok", rows[0]["STATUS"])
	assert.Equal(t, "none", rows[1]["PROFILE"])
}

func TestValidateCommand_DependencyErrors(t *testing.T) {
	path := writeDocument(t, "assets.yaml", brokenDocument)

	out, err := run(t, "validate", path, "-o", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 of 3 bundles have dependency errors")

	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "js/app.js", rows[1]["BUNDLE"])
	assert.Contains(t, rows[1]["STATUS"], `depends on undefined bundle "js/missing.js"`)
	assert.Contains(t, rows[0]["STATUS"], "dependency cycle")
	assert.Contains(t, rows[2]["STATUS"], "dependency cycle")
}

func TestValidateCommand_MalformedDocument(t *testing.T) {
	path := writeDocument(t, "assets.toml", "profile = [")

	_, err := run(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed document")
}

func TestValidateCommand_InvalidOutputFormat(t *testing.T) {
	_, err := run(t, "validate", "assets.yaml", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")
}
