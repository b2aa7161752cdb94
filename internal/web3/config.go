package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint together with the
// marketplace contracts deployed on it.
type ChainDefinition struct {
	Type            string `yaml:"type"`
	RPCURL          string `yaml:"rpc_url"`
	ChainID         int64  `yaml:"chain_id"`
	ExplorerURL     string `yaml:"explorer_url"`
	TokenAddress    string `yaml:"token_address"`
	RegistryAddress string `yaml:"registry_address"`
	Description     string `yaml:"description"`
}

// TxURL returns the explorer link for a transaction hash, or an empty string
// when the chain has no explorer configured.
func (d ChainDefinition) TxURL(txHash string) string {
	return ExplorerTxURL(d.ExplorerURL, txHash)
}

// ExplorerTxURL joins an explorer base URL and a transaction hash.
func ExplorerTxURL(base, txHash string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" || txHash == "" {
		return ""
	}
	return base + "/tx/" + txHash
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
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
	return defs, nil
}
