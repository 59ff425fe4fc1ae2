package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Backend is the subset of go-ethereum client methods the orchestrator needs.
// Both *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name    string
	notes   string
	backend Backend
	closer  func()
	mu      sync.Mutex
}

var _ web3.Client = (*Client)(nil)

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "连接以太坊节点失败")
	}
	client := NewWithBackend(cfg.Name, cfg.Notes, eth)
	client.closer = eth.Close
	return client, nil
}

// NewWithBackend wraps an existing backend, such as a simulated chain in tests.
func NewWithBackend(name, notes string, backend Backend) *Client {
	if name == "" {
		name = "default"
	}
	return &Client{name: name, notes: notes, backend: backend}
}

// Name returns the registry name of the chain.
func (c *Client) Name() string { return c.name }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closer != nil {
		c.closer()
		c.closer = nil
	}
	c.backend = nil
}

func (c *Client) eth() (Backend, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.backend, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	eth, err := c.eth()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取链 ID 失败")
	}
	blockNumber, err := eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取最新区块高度失败")
	}
	return web3.ChainSnapshot{
		Chain:       c.name,
		ChainID:     web3.HexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// ExecuteAction runs small read-only RPC helpers for the tool layer.
func (c *Client) ExecuteAction(ctx context.Context, action, address string) (string, error) {
	eth, err := c.eth()
	if err != nil {
		return "", err
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "链上操作不能为空")
	}

	switch action {
	case "eth_blockNumber":
		n, err := eth.BlockNumber(ctx)
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "获取区块高度失败")
		}
		return fmt.Sprintf("0x%x", n), nil
	case "eth_getBalance", "eth_getTransactionCount":
		addr, err := parseAddress(address)
		if err != nil {
			return "", err
		}
		if action == "eth_getBalance" {
			balance, err := eth.BalanceAt(ctx, addr, nil)
			if err != nil {
				return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "查询余额失败")
			}
			return web3.HexBig(balance), nil
		}
		nonce, err := eth.PendingNonceAt(ctx, addr)
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "查询交易计数失败")
		}
		return fmt.Sprintf("0x%x", nonce), nil
	default:
		return "", xerrors.Newf(xerrors.CodeInvalidArgument, "暂不支持的链上操作: %s", action)
	}
}

// PrepareTransfer prices an EIP-1559 transfer without signing or sending it.
func (c *Client) PrepareTransfer(ctx context.Context, req web3.TransferRequest) (web3.TransferPreview, error) {
	eth, err := c.eth()
	if err != nil {
		return web3.TransferPreview{}, err
	}
	if req.Value == nil || req.Value.Sign() <= 0 {
		return web3.TransferPreview{}, xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须大于 0")
	}
	if req.To == (common.Address{}) {
		return web3.TransferPreview{}, xerrors.New(xerrors.CodeInvalidArgument, "缺少收款地址")
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return web3.TransferPreview{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取链 ID 失败")
	}
	head, err := eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return web3.TransferPreview{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取最新区块失败")
	}
	nonce, err := eth.PendingNonceAt(ctx, req.From)
	if err != nil {
		return web3.TransferPreview{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询交易计数失败")
	}

	tip, feeCap, err := suggestFees(ctx, eth, head)
	if err != nil {
		return web3.TransferPreview{}, err
	}
	to := req.To
	gas, err := eth.EstimateGas(ctx, gethcore.CallMsg{From: req.From, To: &to, Value: req.Value})
	if err != nil {
		return web3.TransferPreview{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "估算 gas 失败")
	}

	maxCost := new(big.Int).Mul(new(big.Int).SetUint64(gas), feeCap)
	maxCost.Add(maxCost, req.Value)

	return web3.TransferPreview{
		Chain:       c.name,
		ChainID:     chainID,
		From:        req.From,
		To:          req.To,
		Value:       new(big.Int).Set(req.Value),
		Nonce:       nonce,
		Gas:         gas,
		GasTipCap:   tip,
		GasFeeCap:   feeCap,
		MaxCost:     maxCost,
		BlockNumber: head.Number.Uint64(),
	}, nil
}

func suggestFees(ctx context.Context, eth Backend, head *coretypes.Header) (*big.Int, *big.Int, error) {
	if head.BaseFee == nil {
		price, err := eth.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取 gas 价格失败")
		}
		return price, new(big.Int).Set(price), nil
	}
	tip, err := eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取小费建议失败")
	}
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return tip, feeCap, nil
}

// SendTransfer signs the prepared transfer and broadcasts it.
func (c *Client) SendTransfer(ctx context.Context, signer web3.Signer, preview web3.TransferPreview) (common.Hash, error) {
	eth, err := c.eth()
	if err != nil {
		return common.Hash{}, err
	}
	if signer == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "未提供交易签名器")
	}
	if signer.Address() != preview.From {
		return common.Hash{}, xerrors.Newf(xerrors.CodeInvalidArgument, "签名账户 %s 与预览发送方 %s 不一致", signer.Address().Hex(), preview.From.Hex())
	}
	to := preview.To
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   preview.ChainID,
		Nonce:     preview.Nonce,
		GasTipCap: preview.GasTipCap,
		GasFeeCap: preview.GasFeeCap,
		Gas:       preview.Gas,
		To:        &to,
		Value:     preview.Value,
	})
	signed, err := signer.SignTx(tx, preview.ChainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "发送交易失败")
	}
	return signed.Hash(), nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "无效的地址: %q", raw)
	}
	return common.HexToAddress(raw), nil
}
