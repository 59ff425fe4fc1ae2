package knowledge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtures() []Snippet {
	return []Snippet{
		{Title: "general", Content: "always double check addresses"},
		{Title: "gas", Content: "gas spikes", Keywords: []string{"gas"}},
		{Title: "transfer gas", Content: "transfers cost 21000 gas", Keywords: []string{"gas", "transfer"}},
		{Title: "bridge", Content: "bridges are slow", Tags: []string{"bridge"}},
	}
}

func TestQueryRanksByHits(t *testing.T) {
	p := NewStaticProvider(fixtures(), 3)

	got := p.Query("How much gas does a transfer need?")
	require.Len(t, got, 3)
	assert.Equal(t, "transfer gas", got[0].Title)
	assert.Equal(t, "gas", got[1].Title)
	assert.Equal(t, "general", got[2].Title)

	got = p.Query("BRIDGE status")
	assert.Equal(t, "bridge", got[0].Title)
}

func TestLoadYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "kb.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("- title: nonce\n  content: nonces increase\n  keywords: [nonce]\n"), 0o644))
	p, err := LoadStaticProvider(yamlPath, 2)
	require.NoError(t, err)
	assert.Equal(t, "nonce", p.Query("nonce gap")[0].Title)

	jsonPath := filepath.Join(dir, "kb.json")
	encoded, err := json.Marshal(fixtures())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(jsonPath, encoded, 0o644))
	p, err = LoadStaticProvider(jsonPath, 0)
	require.NoError(t, err)
	assert.Len(t, p.Query("gas"), 3)

	_, err = LoadStaticProvider("", 1)
	assert.Error(t, err)
}

func TestToolInvoke(t *testing.T) {
	tool := NewTool(NewStaticProvider(fixtures(), 1))

	out, err := tool.Invoke(context.Background(), map[string]any{"query": "bridge"})
	require.NoError(t, err)
	var snippets []Snippet
	require.NoError(t, json.Unmarshal([]byte(out), &snippets))
	require.Len(t, snippets, 1)
	assert.Equal(t, "bridge", snippets[0].Title)

	_, err = tool.Invoke(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestBuiltinEntriesAreSearchable(t *testing.T) {
	p := NewStaticProvider(Builtin(), 2)

	got := p.Query("what gas fee should a transfer pay")
	require.NotEmpty(t, got)
	for _, s := range got {
		assert.Contains(t, s.Keywords, "gas")
	}
}
