package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions is the chains file referenced by web3.chain_config.
//
//	default: sepolia
//	chains:
//	  sepolia:
//	    rpc_url: https://sepolia.infura.io/v3/${INFURA_KEY}
type ChainDefinitions struct {
	Default string                     `yaml:"default"`
	Chains  map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition is one EVM endpoint. An empty type means "evm".
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	Description string `yaml:"description"`
}

// LoadChainDefinitions parses and validates the chains file. Environment
// references in rpc_url are expanded so API keys stay out of the file.
// An empty path yields no chains.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, chain := range defs.Chains {
		chain.Type = strings.ToLower(strings.TrimSpace(chain.Type))
		chain.RPCURL = strings.TrimSpace(os.ExpandEnv(chain.RPCURL))
		defs.Chains[name] = chain
	}
	defs.Default = strings.TrimSpace(defs.Default)
	if err := defs.Validate(); err != nil {
		return ChainDefinitions{}, err
	}
	return defs, nil
}

// Validate rejects non-EVM chains, missing endpoints and an unknown default.
func (d ChainDefinitions) Validate() error {
	for _, name := range d.Names() {
		chain := d.Chains[name]
		if chain.Type != "" && chain.Type != "evm" {
			return fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("链 %s 缺少 rpc_url", name)
		}
	}
	if d.Default != "" {
		if _, ok := d.Chains[d.Default]; !ok {
			return fmt.Errorf("默认链 %s 未定义", d.Default)
		}
	}
	return nil
}

// Names returns the chain names in sorted order.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
