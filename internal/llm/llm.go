package llm

import "context"

// 历史消息的角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 是一条对话历史。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 描述发送给大模型的生成请求。
type Request struct {
	Prompt  string
	System  string
	History []Message
}

// Response 是大模型推理得到的结构化输出。
type Response struct {
	Thought string `json:"thought"`
	Reply   string `json:"reply"`
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 让普通函数满足 Client 接口。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 调用函数本身。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
