package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRuleSet(t *testing.T) {
	rs, err := DefaultRuleSet()
	require.NoError(t, err)
	assert.NotEmpty(t, rs.Rules)
	assert.Contains(t, rs.CodingRules, "css")
	assert.Contains(t, rs.CodingRules, "html")
}

func TestLoadRuleSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - Use rem units\ncoding_rules:\n  naming:\n    - kebab-case\n"), 0o644))

	rs, err := LoadRuleSet(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Use rem units"}, rs.Rules)
	assert.Equal(t, []string{"kebab-case"}, rs.CodingRules["naming"])

	_, err = ParseRuleSet([]byte("coding_rules: {}\n"))
	assert.Error(t, err)
	_, err = LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
