// Package web3tools exposes chain operations as orchestrator tools. Read-only
// tools run directly; transfer_native requires human review and offers a
// side-effect free simulation.
package web3tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/tools"
	"OpenMCP-Orchestrator/internal/web3"
)

// Resolver returns the chain client for a name; an empty name selects the default chain.
type Resolver interface {
	Resolve(name string) (web3.Client, error)
	Chains() []string
}

// All builds every chain tool. signer may be nil, in which case the transfer
// tool is omitted.
func All(chains Resolver, signer web3.Signer) []tools.Tool {
	out := []tools.Tool{
		&snapshotTool{chains: chains},
		&readTool{chains: chains, name: "get_balance", action: "eth_getBalance", desc: "Return the native balance (hex wei) of an address."},
		&readTool{chains: chains, name: "get_transaction_count", action: "eth_getTransactionCount", desc: "Return the pending nonce of an address."},
		&portfolioTool{chains: chains},
	}
	if signer != nil {
		out = append(out, NewTransferTool(chains, signer))
	}
	return out
}

func chainProp() map[string]any {
	return tools.Prop("string", "chain name; omit for the default chain")
}

func encode(v any) (string, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

type snapshotTool struct {
	chains Resolver
}

func (t *snapshotTool) Name() string { return "chain_snapshot" }

func (t *snapshotTool) Description() string {
	return "Return chain id and latest block number of a configured chain."
}

func (t *snapshotTool) Parameters() map[string]any {
	return tools.ObjectSchema(map[string]any{"chain": chainProp()})
}

func (t *snapshotTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	client, err := t.chains.Resolve(llm.String(args, "chain"))
	if err != nil {
		return "", err
	}
	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		return "", err
	}
	return encode(snapshot)
}

type readTool struct {
	chains Resolver
	name   string
	action string
	desc   string
}

func (t *readTool) Name() string        { return t.name }
func (t *readTool) Description() string { return t.desc }

func (t *readTool) Parameters() map[string]any {
	return tools.ObjectSchema(map[string]any{
		"address": tools.Prop("string", "0x-prefixed account address"),
		"chain":   chainProp(),
	}, "address")
}

func (t *readTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	client, err := t.chains.Resolve(llm.String(args, "chain"))
	if err != nil {
		return "", err
	}
	address := llm.String(args, "address")
	result, err := client.ExecuteAction(ctx, t.action, address)
	if err != nil {
		return "", err
	}
	return encode(map[string]string{"chain": client.Name(), "address": address, "result": result})
}

// portfolioTool 并发查询多个地址在多条链上的余额。
type portfolioTool struct {
	chains Resolver
}

func (t *portfolioTool) Name() string { return "portfolio_overview" }

func (t *portfolioTool) Description() string {
	return "Return native balances (ether) for several addresses across several chains at once."
}

func (t *portfolioTool) Parameters() map[string]any {
	return tools.ObjectSchema(map[string]any{
		"addresses": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"chains":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "defaults to every configured chain"},
	}, "addresses")
}

type balanceEntry struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Ether   string `json:"ether,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (t *portfolioTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	addresses := llm.Strings(args, "addresses")
	if len(addresses) == 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "addresses is required")
	}
	chains := llm.Strings(args, "chains")
	if len(chains) == 0 {
		chains = t.chains.Chains()
	}

	var (
		mu      sync.Mutex
		entries []balanceEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, chain := range chains {
		client, err := t.chains.Resolve(chain)
		if err != nil {
			return "", err
		}
		for _, address := range addresses {
			g.Go(func() error {
				entry := balanceEntry{Chain: client.Name(), Address: address}
				raw, err := client.ExecuteAction(gctx, "eth_getBalance", address)
				if err != nil {
					// 单个地址失败不影响其余查询。
					entry.Error = err.Error()
				} else if wei, perr := web3.ParseWei(raw); perr == nil {
					entry.Ether = web3.FormatEther(wei)
				}
				mu.Lock()
				entries = append(entries, entry)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	sortEntries(entries)
	return encode(entries)
}

func sortEntries(entries []balanceEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Chain != entries[j].Chain {
			return entries[i].Chain < entries[j].Chain
		}
		return strings.ToLower(entries[i].Address) < strings.ToLower(entries[j].Address)
	})
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}
