package knowledge

// Builtin 返回未配置知识库文件时使用的内置条目。
func Builtin() []Snippet {
	return []Snippet{
		{
			Title:    "原生代币转账",
			Content:  "EVM 链上的普通转账消耗 21000 gas，发送前需确认余额覆盖转账金额与手续费。",
			Keywords: []string{"transfer", "gas", "转账", "send"},
			Tags:     []string{"evm"},
		},
		{
			Title:    "地址校验",
			Content:  "以太坊地址为 0x 开头的 40 位十六进制串，混合大小写时应满足 EIP-55 校验。",
			Keywords: []string{"address", "地址", "checksum"},
			Tags:     []string{"evm"},
		},
		{
			Title:    "交易确认",
			Content:  "交易被打包后仍可能因重组回滚，重要操作建议等待至少 12 个区块确认。",
			Keywords: []string{"confirm", "receipt", "确认", "block"},
			Tags:     []string{"evm"},
		},
		{
			Title:    "Gas 价格",
			Content:  "EIP-1559 链上手续费由 base fee 与 priority fee 组成，拥堵时 base fee 会按区块上调。",
			Keywords: []string{"gas", "fee", "手续费", "price"},
			Tags:     []string{"evm"},
		},
	}
}
