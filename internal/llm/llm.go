package llm

import "context"

// Request 描述一次单轮对话补全：系统提示词加用户输入。
type Request struct {
	System      string
	Prompt      string
	Temperature float64
}

// Response 是大模型返回的文本。
type Response struct {
	Text  string
	Model string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
