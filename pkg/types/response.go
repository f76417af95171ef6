package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// PageInfo describes where the next cursor page starts. Empty when exhausted.
type PageInfo struct {
	Limit      int    `json:"limit"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// PagedData wraps one page of list results.
type PagedData struct {
	Items any      `json:"items"`
	Page  PageInfo `json:"page"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
