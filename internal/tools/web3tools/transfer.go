package web3tools

import (
	"context"
	"math/big"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/tools"
	"OpenMCP-Orchestrator/internal/web3"
)

// TransferTool sends native currency from the configured signer account.
// It always requires review: Simulate prices the transfer, Invoke signs and
// broadcasts it.
type TransferTool struct {
	chains Resolver
	signer web3.Signer
}

var _ tools.Reviewable = (*TransferTool)(nil)

// NewTransferTool builds the review-gated transfer tool.
func NewTransferTool(chains Resolver, signer web3.Signer) *TransferTool {
	return &TransferTool{chains: chains, signer: signer}
}

func (t *TransferTool) Name() string { return "transfer_native" }

func (t *TransferTool) Description() string {
	return "Transfer native currency (e.g. ETH) to an address. Requires human approval before it is sent."
}

func (t *TransferTool) Parameters() map[string]any {
	return tools.ObjectSchema(map[string]any{
		"to":     tools.Prop("string", "recipient address"),
		"amount": tools.Prop("string", "amount in ether, decimal string such as \"0.5\""),
		"chain":  chainProp(),
	}, "to", "amount")
}

// RequiresReview implements tools.Reviewable.
func (t *TransferTool) RequiresReview() bool { return true }

// Simulate implements tools.Reviewable. Amount fields are returned as *big.Int.
func (t *TransferTool) Simulate(ctx context.Context, args map[string]any) (map[string]any, error) {
	client, preview, err := t.prepare(ctx, args)
	if err != nil {
		return nil, err
	}
	payload := preview.Map()
	payload["amount"] = web3.FormatEther(preview.Value)
	payload["chain"] = client.Name()
	return payload, nil
}

// Invoke signs and broadcasts the transfer, re-pricing it against the current chain state.
func (t *TransferTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	client, preview, err := t.prepare(ctx, args)
	if err != nil {
		return "", err
	}
	hash, err := client.SendTransfer(ctx, t.signer, preview)
	if err != nil {
		return "", err
	}
	return encode(map[string]string{
		"chain":   client.Name(),
		"tx_hash": hash.Hex(),
		"to":      preview.To.Hex(),
		"amount":  web3.FormatEther(preview.Value),
	})
}

func (t *TransferTool) prepare(ctx context.Context, args map[string]any) (web3.Client, web3.TransferPreview, error) {
	to, err := parseAddress(llm.String(args, "to"))
	if err != nil {
		return nil, web3.TransferPreview{}, err
	}
	value, err := amountOf(args)
	if err != nil {
		return nil, web3.TransferPreview{}, err
	}
	client, err := t.chains.Resolve(llm.String(args, "chain"))
	if err != nil {
		return nil, web3.TransferPreview{}, err
	}
	preview, err := client.PrepareTransfer(ctx, web3.TransferRequest{From: t.signer.Address(), To: to, Value: value})
	if err != nil {
		return nil, web3.TransferPreview{}, err
	}
	return client, preview, nil
}

func amountOf(args map[string]any) (*big.Int, error) {
	if raw := llm.String(args, "amount"); raw != "" {
		wei, err := web3.ParseEther(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid amount")
		}
		return wei, nil
	}
	if raw := llm.String(args, "value_wei"); raw != "" {
		wei, err := web3.ParseWei(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid value_wei")
		}
		return wei, nil
	}
	return nil, xerrors.New(xerrors.CodeInvalidArgument, "amount is required")
}
