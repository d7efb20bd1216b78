package reliability

// IsRetryableHTTPStatus classifies retryable HTTP status codes from the
// token backend and the signaling endpoint.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRemoteErrorType classifies error events from the remote speech
// peer. These errors never tear the session down by themselves; the flag only
// informs the UI whether repeating the action is worthwhile.
func IsRetryableRemoteErrorType(errorType string) bool {
	switch errorType {
	case "rate_limit_exceeded", "server_error", "overloaded":
		return true
	default:
		return false
	}
}
