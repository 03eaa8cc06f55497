package types

// Request is a chat completion request. Model, Temperature and the ordered
// Messages list together identify the request for memoization purposes.
type Request struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Response is a chat completion response returned by a backend.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}
