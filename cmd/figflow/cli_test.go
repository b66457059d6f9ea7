package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"figflow/pkg/config"
	"figflow/pkg/orchestrator"
)

func executeCLI(t *testing.T, opts *rootOptions, args ...string) (string, error) {
	t.Helper()
	if opts == nil {
		opts = &rootOptions{password: func(string) (string, error) { return "", errNoTerminal }}
	}
	root := newRootCmdWith(opts)
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func resetSecrets(t *testing.T) {
	t.Helper()
	config.SetDecryptedSecrets(nil)
	t.Cleanup(func() { config.SetDecryptedSecrets(nil) })
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCLI(t, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "figflow dev")
	assert.Contains(t, out, "commit: none")
}

func TestRunRejectsBadArguments(t *testing.T) {
	_, err := executeCLI(t, nil, "run")
	require.Error(t, err)

	_, err = executeCLI(t, nil, "run", "a", "b", "c")
	require.ErrorIs(t, err, orchestrator.ErrUsage)
}

func TestSecretsSetListDelete(t *testing.T) {
	resetSecrets(t)
	t.Setenv(PasswordEnv, "hunter2")
	dir := t.TempDir()

	out, err := executeCLI(t, nil, "--data-dir", dir, "secrets", "set", "OPENAI_API_KEY", "--value", "sk-test")
	require.NoError(t, err)
	assert.Contains(t, out, "stored OPENAI_API_KEY")

	stored, err := config.DecryptSecretsFile(dir, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", stored["OPENAI_API_KEY"])

	config.SetDecryptedSecrets(nil)
	out, err = executeCLI(t, nil, "--data-dir", dir, "secrets", "list")
	require.NoError(t, err)
	assert.Equal(t, "OPENAI_API_KEY\n", out)

	out, err = executeCLI(t, nil, "--data-dir", dir, "secrets", "delete", "OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted OPENAI_API_KEY")
	stored, err = config.DecryptSecretsFile(dir, "hunter2")
	require.NoError(t, err)
	assert.Empty(t, stored)

	_, err = executeCLI(t, nil, "--data-dir", dir, "secrets", "delete", "MISSING")
	assert.Error(t, err)
}

func TestSecretsWrongPassword(t *testing.T) {
	resetSecrets(t)
	dir := t.TempDir()
	require.NoError(t, config.EncryptSecretsFile(dir, "right", map[string]string{"A": "1"}))

	t.Setenv(PasswordEnv, "wrong")
	_, err := executeCLI(t, nil, "--data-dir", dir, "secrets", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unlock secrets")
}

func TestSecretsPrompt(t *testing.T) {
	resetSecrets(t)
	t.Setenv(PasswordEnv, "")
	dir := t.TempDir()

	answers := []string{"pw", "pw", "value-from-prompt"}
	opts := &rootOptions{password: func(string) (string, error) {
		if len(answers) == 0 {
			return "", errors.New("unexpected prompt")
		}
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}}
	_, err := executeCLI(t, opts, "--data-dir", dir, "secrets", "set", "GEMINI_API_KEY")
	require.NoError(t, err)

	stored, err := config.DecryptSecretsFile(dir, "pw")
	require.NoError(t, err)
	assert.Equal(t, "value-from-prompt", stored["GEMINI_API_KEY"])

	mismatch := []string{"a", "b"}
	opts.password = func(string) (string, error) {
		next := mismatch[0]
		mismatch = mismatch[1:]
		return next, nil
	}
	_, err = executeCLI(t, opts, "--data-dir", t.TempDir(), "secrets", "set", "X", "--value", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "passwords do not match")

	_, err = executeCLI(t, nil, "--data-dir", dir, "secrets", "list")
	require.ErrorIs(t, err, errNoTerminal)
}

func writeConfig(t *testing.T, root string) string {
	t.Helper()
	cfg := map[string]any{
		"endpoints": []map[string]any{{"name": "local", "provider": "ollama", "model": "llama3"}},
		"paths": map[string]any{
			"output_dir": filepath.Join(root, "output"),
			"log_dir":    filepath.Join(root, "logs"),
		},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(root, "figflow.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestNewAppWiring(t *testing.T) {
	root := t.TempDir()
	opts := &rootOptions{configPath: writeConfig(t, root), dataDir: filepath.Join(root, "data")}

	a, err := newApp(opts)
	require.NoError(t, err)
	defer a.Close()

	assert.FileExists(t, filepath.Join(root, "data", databaseFile))
	assert.DirExists(t, filepath.Join(root, "output"))
	require.Len(t, a.router.Status(), 1)
	assert.Equal(t, "local", a.router.Status()[0].Name)

	team, err := a.team(context.Background(), 1)
	require.NoError(t, err)
	p := a.cfg.Pipeline.Roles
	for _, name := range []string{p.Analyst, p.InfoGatherer, p.CodeWriter, p.CodeReviewer, p.FidelityReviewer} {
		assert.Contains(t, team, name)
	}

	srv, err := a.webServer("", true, &bytes.Buffer{})
	require.NoError(t, err)
	assert.NotNil(t, srv)
}

func TestNewAppInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "figflow.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"endpoints": []}`), 0o644))

	_, err := newApp(&rootOptions{configPath: path})
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
