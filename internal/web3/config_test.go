package web3

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadChainDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chains:
  sepolia:
    type: evm
    rpc_url: https://rpc.sepolia.example
    description: testnet
`), 0o644))

	defs, err := LoadChainDefinitions(path)
	require.NoError(t, err)
	require.Contains(t, defs.Chains, "sepolia")
	assert.Equal(t, "https://rpc.sepolia.example", defs.Chains["sepolia"].RPCURL)

	empty, err := LoadChainDefinitions("")
	require.NoError(t, err)
	assert.Empty(t, empty.Chains)

	_, err = LoadChainDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadChainDefinitionsExpandsAndValidates(t *testing.T) {
	t.Setenv("TEST_RPC_KEY", "secret")
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
default: mainnet
chains:
  mainnet:
    type: EVM
    rpc_url: https://rpc.example/${TEST_RPC_KEY}
  devnet:
    rpc_url: http://127.0.0.1:8545
`), 0o644))
	defs, err := LoadChainDefinitions(good)
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.example/secret", defs.Chains["mainnet"].RPCURL)
	assert.Equal(t, "evm", defs.Chains["mainnet"].Type)
	assert.Equal(t, []string{"devnet", "mainnet"}, defs.Names())

	for name, body := range map[string]string{
		"solana.yaml":  "chains:\n  sol:\n    type: solana\n    rpc_url: http://x\n",
		"norpc.yaml":   "chains:\n  a:\n    type: evm\n",
		"default.yaml": "default: b\nchains:\n  a:\n    rpc_url: http://x\n",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := LoadChainDefinitions(path)
		assert.Error(t, err, name)
	}
}
