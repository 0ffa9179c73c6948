package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parhamfakhar1/lumix-attention/internal/core"
	"github.com/Parhamfakhar1/lumix-attention/internal/model"
)

const smallConfig = `
d_model: 4
d_k: 2
d_v: 2
d_o: 4
n_heads: 2
seed: 3
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLoadConfig(t *testing.T) {
	config, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), config)

	config, err = loadConfig(writeFile(t, "small.yaml", smallConfig+"precision: float64\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, config.DModel)
	assert.Equal(t, 2, config.NHeads)
	assert.Equal(t, model.Float64, config.Precision)
	assert.Equal(t, model.InitLinear, config.Init, "unset fields keep their defaults")

	_, err = loadConfig(writeFile(t, "bad.yaml", "d_o: 5\nd_model: 4\nd_k: 2\nd_v: 2\nn_heads: 2\n"))
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = loadConfig(writeFile(t, "broken.yaml", "d_model: [\n"))
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	config := writeFile(t, "small.yaml", smallConfig)
	out, err := execute(t, "run", "--config", config, "--batch", "1", "--seq-q", "3", "--seq-kv", "4", "--causal")
	require.NoError(t, err)

	assert.Contains(t, out, "Parameters")
	assert.Contains(t, out, "80")
	assert.Contains(t, out, "[1 3 4]")
	assert.Contains(t, out, "[1 4 4]")
	assert.Contains(t, out, "float32")
}

func TestRunCommandWithInputFile(t *testing.T) {
	config := writeFile(t, "small.yaml", smallConfig+"precision: float64\n")
	input := writeFile(t, "qkv.json", `{"query": [[[1, 0, 0, 0], [0, 1, 0, 0]]]}`)

	out, err := execute(t, "run", "--config", config, "--input", input)
	require.NoError(t, err)
	assert.Contains(t, out, "[1 2 4]")
	assert.Contains(t, out, "float64")

	wrongWidth := writeFile(t, "wide.json", `{"query": [[[1, 0, 0]]]}`)
	_, err = execute(t, "run", "--config", config, "--input", wrongWidth)
	assert.ErrorIs(t, err, core.ErrShape)
}

func TestBenchCommand(t *testing.T) {
	config := writeFile(t, "small.yaml", smallConfig)
	_, err := execute(t, "bench", "--config", config,
		"--iterations", "3", "--batch", "1", "--seq-q", "2", "--seq-kv", "2",
		"--progress=false", "--metrics-addr", "127.0.0.1:0")
	require.NoError(t, err)

	_, err = execute(t, "bench", "--config", config, "--iterations", "-1")
	assert.Error(t, err)
}

func TestCommandsRejectNonPositiveSizes(t *testing.T) {
	config := writeFile(t, "small.yaml", smallConfig)
	testCases := [][]string{
		{"run", "--batch", "-1"},
		{"run", "--seq-q", "0"},
		{"bench", "--seq-q", "-2", "--progress=false"},
		{"bench", "--seq-kv", "-1", "--progress=false"},
	}
	for _, args := range testCases {
		t.Run(args[0]+args[1], func(t *testing.T) {
			var err error
			require.NotPanics(t, func() {
				_, err = execute(t, append(args, "--config", config)...)
			})
			assert.ErrorIs(t, err, core.ErrShape)
		})
	}
}

func TestBenchCommandCausal(t *testing.T) {
	config := writeFile(t, "small.yaml", smallConfig+"causal: true\n")
	_, err := execute(t, "bench", "--config", config,
		"--iterations", "4", "--batch", "1", "--seq-q", "3", "--seq-kv", "3", "--progress=false")
	require.NoError(t, err)
}
