package cli_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zefrenchwan/registries.git/cli"
	"github.com/zefrenchwan/registries.git/jobs"
	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/sinks"
)

const testRegistry = `
catalogs:
  gebieden:
    collections:
      wijken:
        version: "1"
        entity_id: identificatie
        fields:
          identificatie: {type: string}
          code: {type: string}
`

const testSnapshot = `{"header": {"catalogue": "gebieden", "collection": "wijken", "source": "AMSBI", "application": "DGDialog"},
	"contents": [{"identificatie": "w1", "code": "A"}, {"identificatie": "w2", "code": "B"}]}`

type workspace struct {
	schema    string
	snapshot  string
	artifacts string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	result := workspace{
		schema:    filepath.Join(dir, "registry.yaml"),
		snapshot:  filepath.Join(dir, "wijken.json"),
		artifacts: filepath.Join(dir, "artifacts"),
	}

	require.NoError(t, os.WriteFile(result.schema, []byte(testRegistry), 0o600))
	require.NoError(t, os.WriteFile(result.snapshot, []byte(testSnapshot), 0o600))
	t.Setenv("REGISTRIES_ARTIFACTS_DIR", result.artifacts)
	t.Setenv("REGISTRIES_DB_URL", "")
	t.Setenv("REGISTRIES_KAFKA_BROKERS", "")
	t.Setenv("REGISTRIES_LOG_LEVEL", "error")
	return result
}

func execute(t *testing.T, w workspace, args ...string) (string, error) {
	t.Helper()
	cmd := cli.NewRootCommand()
	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(filepath.Dir(w.schema), "missing.env"), "--schema", w.schema}, args...))
	err := cmd.Execute()
	return output.String(), err
}

func TestImportThenApplyArtifact(t *testing.T) {
	w := newWorkspace(t)

	output, err := execute(t, w, "import", w.snapshot)
	require.NoError(t, err, output)

	var result jobs.ImportResult
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, 2, result.Apply.Of(model.ActionAdd))

	artifact := filepath.Join(w.artifacts, "gebieden", "wijken", result.Run+sinks.EVENTS_SUFFIX)
	events, err := sinks.ReadEvents(artifact)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Positive(t, events[0].ID)
	assert.Greater(t, events[1].ID, events[0].ID)

	output, err = execute(t, w, "apply", artifact)
	require.NoError(t, err, output)

	var summary model.Summary
	require.NoError(t, json.Unmarshal([]byte(output), &summary))
	assert.Equal(t, 2, summary.Actions[model.ActionAdd])
}

func TestCommandErrors(t *testing.T) {
	w := newWorkspace(t)

	_, err := execute(t, w, "relate", "gebieden", "wijken")
	assert.Error(t, err)

	_, err = execute(t, w, "apply")
	assert.Error(t, err)

	_, err = execute(t, w, "apply", "events.jsonl", "--drain", "gebieden,wijken")
	assert.Error(t, err)

	_, err = execute(t, w, "import", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	output, err := execute(t, w, "relate", "gebieden", "wijken", "code")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, output, "gebieden_wijken_code")

	output, err = execute(t, w, "apply", "--drain", "gebieden,wijken")
	require.NoError(t, err, output)
}

func TestRelateAllWithoutReferences(t *testing.T) {
	w := newWorkspace(t)
	output, err := execute(t, w, "relate-all")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", output)
}
