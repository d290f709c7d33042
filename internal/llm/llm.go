package llm

import "context"

// Role 是对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是发送给大模型的一条对话消息。
type Message struct {
	Role       Role
	Content    string
	ToolCallID string
	Calls      []FunctionCall
}

// Tool 描述一个可供大模型选择的函数，Parameters 为 JSON Schema。
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// FunctionCall 是大模型选择的一次函数调用，Arguments 为原始 JSON 文本。
type FunctionCall struct {
	ID        string
	Name      string
	Arguments string
}

// Request 描述一次补全请求。Tools 为空时不允许函数调用。
type Request struct {
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

// Response 是补全服务返回的助手消息。
type Response struct {
	Content string
	Calls   []FunctionCall
}

// Message 把响应还原为可追加到历史中的助手消息。
func (r *Response) Message() Message {
	return Message{Role: RoleAssistant, Content: r.Content, Calls: r.Calls}
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
