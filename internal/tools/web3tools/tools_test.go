package web3tools

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpenMCP-Orchestrator/internal/tools"
	"OpenMCP-Orchestrator/internal/web3"
	"OpenMCP-Orchestrator/internal/web3/ethereum"
	"OpenMCP-Orchestrator/internal/web3/provider"
)

const recipient = "0x00000000000000000000000000000000000000aa"

type fixture struct {
	backend *simulated.Backend
	signer  *ethereum.KeySigner
	tools   *tools.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := ethereum.NewKeySignerFromKey(key)

	funds, _ := new(big.Int).SetString("10000000000000000000", 10)
	backend := simulated.NewBackend(coretypes.GenesisAlloc{signer.Address(): {Balance: funds}})
	t.Cleanup(func() { _ = backend.Close() })

	chains, err := provider.NewStatic("devnet", map[string]web3.Client{
		"devnet": ethereum.NewWithBackend("devnet", "", backend.Client()),
	})
	require.NoError(t, err)

	registry, err := tools.NewRegistry(All(chains, signer)...)
	require.NoError(t, err)
	return &fixture{backend: backend, signer: signer, tools: registry}
}

func TestReadOnlyTools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.tools.Invoke(ctx, "chain_snapshot", nil)
	require.NoError(t, err)
	assert.Contains(t, out, `"chain":"devnet"`)

	out, err = f.tools.Invoke(ctx, "get_balance", map[string]any{"address": f.signer.Address().Hex()})
	require.NoError(t, err)
	assert.Contains(t, out, `"result":"0x8ac7230489e80000"`)

	out, err = f.tools.Invoke(ctx, "portfolio_overview", map[string]any{
		"addresses": []any{f.signer.Address().Hex(), "bogus"},
	})
	require.NoError(t, err)
	var entries []balanceEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	byAddress := map[string]balanceEntry{}
	for _, e := range entries {
		byAddress[e.Address] = e
	}
	assert.Equal(t, "10", byAddress[f.signer.Address().Hex()].Ether)
	assert.NotEmpty(t, byAddress["bogus"].Error)

	_, err = f.tools.Invoke(ctx, "get_balance", map[string]any{"address": recipient, "chain": "mainnet"})
	assert.Error(t, err)
}

func TestTransferSimulateHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tool, ok := f.tools.Get("transfer_native")
	require.True(t, ok)
	reviewable, gated := tools.NeedsReview(tool)
	require.True(t, gated)

	preview, err := reviewable.Simulate(ctx, map[string]any{"to": recipient, "amount": "1.5"})
	require.NoError(t, err)
	value, ok := preview["value_wei"].(*big.Int)
	require.True(t, ok, "amounts stay big integers until transport")
	assert.Equal(t, "1500000000000000000", value.String())
	assert.Equal(t, "1.5", preview["amount"])

	f.backend.Commit()
	balance, err := f.tools.Invoke(ctx, "get_balance", map[string]any{"address": recipient})
	require.NoError(t, err)
	assert.Contains(t, balance, `"result":"0x0"`)
}

func TestTransferInvokeSends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.tools.Invoke(ctx, "transfer_native", map[string]any{"to": recipient, "amount": "2"})
	require.NoError(t, err)
	assert.Contains(t, out, "tx_hash")
	f.backend.Commit()

	balance, err := f.tools.Invoke(ctx, "get_balance", map[string]any{"address": common.HexToAddress(recipient).Hex()})
	require.NoError(t, err)
	assert.Contains(t, balance, `"result":"0x1bc16d674ec80000"`)

	_, err = f.tools.Invoke(ctx, "transfer_native", map[string]any{"to": recipient})
	assert.Error(t, err)
	_, err = f.tools.Invoke(ctx, "transfer_native", map[string]any{"to": "nope", "amount": "1"})
	assert.Error(t, err)
}

func TestAllWithoutSignerOmitsTransfer(t *testing.T) {
	chains, err := provider.NewStatic("x", map[string]web3.Client{"x": ethereum.NewWithBackend("x", "", nil)})
	require.NoError(t, err)
	for _, tool := range All(chains, nil) {
		assert.NotEqual(t, "transfer_native", tool.Name())
	}
}
