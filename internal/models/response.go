package models

// Meta carries response flags outside the message body.
type Meta struct {
	IsAction bool `json:"isAction"`
}

// QueryResponse is the envelope every assistant route answers with.
type QueryResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    string `json:"data"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// ErrorResponse is returned for 4xx/5xx answers.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// QueryRequest is the body accepted by the assistant routes.
type QueryRequest struct {
	Prompt  string        `json:"prompt"`
	History []ChatMessage `json:"history,omitempty"`
}
