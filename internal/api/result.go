package api

// Result is the structured response returned by every control-surface
// operation. Failures are returned, never raised: an operation that cannot
// complete reports Success=false with a populated Error, and the HTTP/API
// collaborator above this layer never has to recover from a panic.
type Result struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail carries the failure kind and a human-readable message.
type ErrorDetail struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// OK builds a successful Result carrying optional data.
func OK(data interface{}) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failed Result from an error. The kind is extracted from the
// typed error when present.
func Fail(err error) Result {
	if err == nil {
		return OK(nil)
	}
	return Result{
		Success: false,
		Error: &ErrorDetail{
			Kind:    KindOf(err),
			Message: err.Error(),
		},
	}
}
