package models

// ChatRequest is the body the widget posts to /api/chat
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is returned on success
type ChatResponse struct {
	Reply     string `json:"reply"`
	Tokens    Usage  `json:"tokens"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse carries a category in Error and, when useful, a detail in Message
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
