package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"OpenMCP-Orchestrator/internal/config"
	"OpenMCP-Orchestrator/internal/web3"
	"OpenMCP-Orchestrator/internal/web3/ethereum"
)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	for _, name := range defs.Names() {
		chain := defs.Chains[name]
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: name, RPCURL: chain.RPCURL, Notes: chain.Description})
		if err != nil {
			closeAll(clients)
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}

	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if defaultChain == "" {
		defaultChain = defs.Default
	}
	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		if defaultChain == "" {
			defaultChain = "default"
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: defaultChain, RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		clients[defaultChain] = client
	}
	return NewStatic(defaultChain, clients)
}

// NewStatic builds a registry from already constructed clients.
func NewStatic(defaultChain string, clients map[string]web3.Client) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	r := &Registry{defaultChain: defaultChain, clients: clients}
	if r.defaultChain == "" {
		r.defaultChain = r.Chains()[0]
	}
	if _, ok := clients[r.defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", r.defaultChain)
	}
	return r, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Resolve returns the named client, or the default one when name is empty.
func (r *Registry) Resolve(name string) (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = r.defaultChain
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("未知的链 %s，可用: %s", name, strings.Join(r.Chains(), ", "))
	}
	return client, nil
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	closeAll(r.clients)
}

func closeAll(clients map[string]web3.Client) {
	for name, client := range clients {
		if client != nil {
			client.Close()
		}
		delete(clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
