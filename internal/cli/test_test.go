package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

func runTestCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := runTestCommand(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := runTestCommand(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := runTestCommand(t, "json", t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	out, err := runTestCommand(t, "text", harnessScenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ fresh_update")
	assert.Contains(t, out, "✓ partial_failure")
	assert.Contains(t, out, "All scenarios passed")
}

func TestTestCommandFilterJSON(t *testing.T) {
	out, err := runTestCommand(t, "json", harnessScenarios, "--filter", "fresh_*")
	require.NoError(t, err)

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, 1, response.Data.Total)
	assert.Equal(t, "fresh_update", response.Data.Scenarios[0].Name)
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := `
name: wrong
description: expects a create that never happens
updates: []
assertions:
  - type: entity_count
    count: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(scenario), 0644))

	out, err := runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "0 entities")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unterminated"), 0644))

	out, err := runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandGoldenUpdate(t *testing.T) {
	root := t.TempDir()
	scenariosDir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(scenariosDir, 0755))

	data, err := os.ReadFile(filepath.Join(harnessScenarios, "fresh_update.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(scenariosDir, "fresh_update.yaml"), data, 0644))

	out, err := runTestCommand(t, "text", scenariosDir)
	require.Error(t, err)
	assert.Contains(t, out, "golden file missing")

	_, err = runTestCommand(t, "text", scenariosDir, "--update")
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(root, "golden", "fresh_update.golden"))
	require.NoError(t, err)
	pinned, err := os.ReadFile("../harness/testdata/golden/fresh_update.golden")
	require.NoError(t, err)
	assert.Equal(t, string(pinned), string(written))

	_, err = runTestCommand(t, "text", scenariosDir)
	require.NoError(t, err)
}

func TestTestHelpText(t *testing.T) {
	out, err := runTestCommand(t, "text", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--update")
	assert.Contains(t, out, "--filter")
	assert.Contains(t, out, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "partial_create.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "partial_push.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "fresh_update.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "partial_*")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("testdata", "golden", "fresh_update.golden"), goldenFilePath(filepath.Join("testdata", "golden"), "fresh_update"))
}
