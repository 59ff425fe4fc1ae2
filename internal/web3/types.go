package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	Chain       string `json:"chain"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// TransferRequest describes a native-currency transfer to be prepared.
type TransferRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// TransferPreview is a fully priced, unsigned transfer. Preparing one has no
// side effects on the chain.
type TransferPreview struct {
	Chain       string
	ChainID     *big.Int
	From        common.Address
	To          common.Address
	Value       *big.Int
	Nonce       uint64
	Gas         uint64
	GasTipCap   *big.Int
	GasFeeCap   *big.Int
	MaxCost     *big.Int
	BlockNumber uint64
}

// Map flattens the preview into a payload suitable for human review. Amounts
// are kept as *big.Int; transport layers decide how to encode them.
func (p TransferPreview) Map() map[string]any {
	return map[string]any{
		"chain":        p.Chain,
		"chain_id":     p.ChainID,
		"from":         p.From.Hex(),
		"to":           p.To.Hex(),
		"value_wei":    p.Value,
		"nonce":        p.Nonce,
		"gas":          p.Gas,
		"gas_tip_cap":  p.GasTipCap,
		"gas_fee_cap":  p.GasFeeCap,
		"max_cost_wei": p.MaxCost,
		"block_number": p.BlockNumber,
	}
}

// Signer signs transactions on behalf of a single account.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	Name() string
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	ExecuteAction(ctx context.Context, action, address string) (string, error)
	PrepareTransfer(ctx context.Context, req TransferRequest) (TransferPreview, error)
	SendTransfer(ctx context.Context, signer Signer, preview TransferPreview) (common.Hash, error)
	Close()
}
