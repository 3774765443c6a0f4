package models

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// InboundMessage is a free-text message received from a chat channel.
type InboundMessage struct {
	ID   string `json:"id"`   // channel message ID, used for de-duplication
	From string `json:"from"` // canonical sender address
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIResponse is the JSON envelope for non-webhook endpoints.
type APIResponse struct {
	Status  APIStatus `json:"status"`
	Message string    `json:"message,omitempty"`
	Result  any       `json:"result,omitempty"`
}

// Success wraps result in an ok response.
func Success(result any) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// Error returns an error response carrying message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
