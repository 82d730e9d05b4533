package errors

// ErrorHandler logs normalized errors for the HTTP layer.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle normalizes err, logs it with its category and returns the status
// code and the StandardError the caller should render.
func (h *ErrorHandler) Handle(route, requestID string, err error) (int, *StandardError) {
	stdErr := AsStandardError(err)
	status := stdErr.HTTPStatus()

	fields := map[string]interface{}{
		"route":         route,
		"requestId":     requestID,
		"errorCode":     string(stdErr.Code),
		"errorCategory": GetErrorCategory(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"status":        status,
	}

	if status >= 500 {
		h.logger.Error("request failed", fields)
	} else {
		h.logger.Warn("request rejected", fields)
	}

	return status, stdErr
}
