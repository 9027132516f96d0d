package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests for CLI commands
// These tests run the actual CLI commands against a temporary workspace

type workspace struct {
	dir        string
	configFile string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()

	config := fmt.Sprintf(`data_dir: %s
log_level: error
checkpoint:
  backend: local
  path: %s
telemetry:
  log: false
`, filepath.Join(dir, "processed"), filepath.Join(dir, "checkpoints"))
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(config), 0644))

	toy := filepath.Join(dir, "processed", "toy")
	require.NoError(t, os.MkdirAll(toy, 0755))
	var train, test, labels strings.Builder
	for i := 0; i < 30; i++ {
		v := float64(i%10) / 10
		fmt.Fprintf(&train, "%g,%g\n", v, 1-v)
		if i == 20 {
			fmt.Fprintf(&test, "5,5\n")
			labels.WriteString("1\n")
		} else {
			fmt.Fprintf(&test, "%g,%g\n", v, 1-v)
			labels.WriteString("0\n")
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(toy, "train.csv"), []byte(train.String()), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(toy, "test.csv"), []byte(test.String()), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(toy, "labels.csv"), []byte(labels.String()), 0644))

	return &workspace{dir: dir, configFile: configFile}
}

func (w *workspace) run(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	rootCmd := newRootCmd()
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append(args, "--config", w.configFile))
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCLIIntegrationFamilies(t *testing.T) {
	ws := newWorkspace(t)

	out, _, err := ws.run("families")
	require.NoError(t, err)
	assert.Contains(t, out, "TranAD")
	assert.Contains(t, out, "LSTM_AD (default)")
	assert.Contains(t, out, "time_major")

	out, _, err = ws.run("families", "--format", "json")
	require.NoError(t, err)
	var infos []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	assert.Len(t, infos, 11)
}

func TestCLIIntegrationTrainThenEvaluate(t *testing.T) {
	ws := newWorkspace(t)
	scores := filepath.Join(ws.dir, "scores.csv")

	out, _, err := ws.run("train", "--dataset", "synthetic", "--epochs", "2", "--output", scores)
	require.NoError(t, err)
	assert.Contains(t, out, "- Last Epoch: 1")
	assert.Contains(t, out, "- Epochs This Run: 2")

	data, err := os.ReadFile(scores)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 101)
	assert.Equal(t, "timestep,score,label", lines[0])
	assert.True(t, strings.HasSuffix(lines[51], ",1"), lines[51])

	_, err = os.Stat(filepath.Join(ws.dir, "checkpoints", "LSTM_AD_synthetic", "model.ckpt"))
	require.NoError(t, err)

	out, stderr, err := ws.run("evaluate", "--dataset", "synthetic", "--format", "json", "--output", "-")
	require.NoError(t, err)
	assert.Contains(t, stderr, "- Epochs This Run: 0")

	var report struct {
		Epoch   int                      `json:"epoch"`
		History []map[string]interface{} `json:"history"`
		Scores  []struct {
			Timestep int     `json:"timestep"`
			Score    float64 `json:"score"`
			Label    bool    `json:"label"`
		} `json:"scores"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Epoch)
	assert.Len(t, report.History, 2)
	require.Len(t, report.Scores, 100)
	assert.True(t, report.Scores[50].Label)
}

func TestCLIIntegrationCSVDataset(t *testing.T) {
	ws := newWorkspace(t)

	out, _, err := ws.run("train", "--model", "USAD", "--dataset", "toy", "--epochs", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "USAD on toy")
	assert.Contains(t, out, "- Timesteps Scored: 30")

	out, _, err = ws.run("train", "--model", "USAD", "--dataset", "toy", "--epochs", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "- Last Epoch: 1")

	out, _, err = ws.run("train", "--model", "USAD", "--dataset", "toy", "--epochs", "1", "--retrain")
	require.NoError(t, err)
	assert.Contains(t, out, "- Last Epoch: 0")
}

func TestCLIIntegrationErrors(t *testing.T) {
	ws := newWorkspace(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing dataset flag", args: []string{"train"}},
		{name: "unknown dataset", args: []string{"train", "--dataset", "nope"}},
		{name: "unknown model", args: []string{"train", "--model", "Nope", "--dataset", "synthetic"}},
		{name: "bad format", args: []string{"evaluate", "--dataset", "synthetic", "--format", "xml", "--output", "-"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ws.run(tt.args...)
			assert.Error(t, err)
		})
	}

	missing := &workspace{dir: ws.dir, configFile: filepath.Join(ws.dir, "missing.yaml")}
	_, _, err := missing.run("config", "show")
	assert.Error(t, err)
}

func TestCLIIntegrationConfig(t *testing.T) {
	ws := newWorkspace(t)
	path := filepath.Join(ws.dir, "nested", "tsad.yaml")

	out, _, err := ws.run("config", "init", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	out, _, err = ws.run("config", "show")
	require.NoError(t, err)
	var shown map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, filepath.Join(ws.dir, "processed"), shown["DataDir"])
	assert.Equal(t, "error", shown["LogLevel"])
}
