package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FallbackAgent 是回退集合中的一条静态定义。
type FallbackAgent struct {
	ID       uint64 `yaml:"id"`
	Metadata `yaml:",inline"`
}

type fallbackFile struct {
	Agents []FallbackAgent `yaml:"agents"`
}

// BuiltinFallback 返回注册表不可用时使用的内置智能体。端点由旧版名称映射补全，
// 因此 Code Explainer 可被发现但不可雇佣。
func BuiltinFallback() []FallbackAgent {
	return []FallbackAgent{
		{ID: 0, Metadata: Metadata{
			Type: "agent", Name: "Summarizer",
			Description: "Summarizes long text into key points",
			X402Support: true, Active: true,
		}},
		{ID: 1, Metadata: Metadata{
			Type: "agent", Name: "Translator",
			Description: "Translates text to any language",
			X402Support: true, Active: true,
		}},
		{ID: 2, Metadata: Metadata{
			Type: "agent", Name: "Code Explainer",
			Description: "Explains code in plain English",
			X402Support: true, Active: true,
		}},
	}
}

// LoadFallbackFile 从 YAML 文件读取回退集合；路径为空时返回内置集合。
func LoadFallbackFile(path string) ([]FallbackAgent, error) {
	if strings.TrimSpace(path) == "" {
		return BuiltinFallback(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取回退智能体配置失败: %w", err)
	}
	var file fallbackFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析回退智能体配置失败: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("回退智能体配置 %s 为空", path)
	}
	return file.Agents, nil
}

func buildFallback(defs []FallbackAgent, defaults Defaults) ([]AgentInfo, error) {
	seen := make(map[uint64]struct{}, len(defs))
	agents := make([]AgentInfo, 0, len(defs))
	for _, def := range defs {
		if _, dup := seen[def.ID]; dup {
			return nil, fmt.Errorf("回退智能体 id %d 重复", def.ID)
		}
		seen[def.ID] = struct{}{}
		if strings.TrimSpace(def.Name) == "" {
			return nil, fmt.Errorf("回退智能体 %d 缺少 name", def.ID)
		}
		agent, err := defaults.build(def.ID, def.Metadata)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}
