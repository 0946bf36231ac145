package files

import "fmt"

type AppError struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

// NotFoundError covers unknown sources, unknown file ids and malformed
// file ids alike; callers cannot distinguish the cases.
func NotFoundError(msg string) *AppError {
	return &AppError{Code: "NOT_FOUND", Status: 404, Message: msg}
}

// ForbiddenError deliberately does not say whether the resource exists.
func ForbiddenError(action string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: fmt.Sprintf("Permission denied for %s", action)}
}

// UnsupportedError reports an operation the source's backend does not
// declare in its capabilities. A 500: routing an operation to a backend
// that cannot perform it is a server-side configuration fault, not a
// request fault.
func UnsupportedError(msg string) *AppError {
	return &AppError{Code: "UNSUPPORTED", Status: 500, Message: msg}
}

func InvalidPayloadError(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

func FileTooLargeError(size, max int64) *AppError {
	return &AppError{Code: "FILE_TOO_LARGE", Status: 413, Message: fmt.Sprintf("File too large: %d bytes (max %d)", size, max)}
}

func StorageWriteError(err error) *AppError {
	return &AppError{Code: "STORAGE_WRITE_FAILED", Status: 502, Message: fmt.Sprintf("Storage write failed: %v", err)}
}

func StorageReadError(err error) *AppError {
	return &AppError{Code: "STORAGE_READ_FAILED", Status: 502, Message: fmt.Sprintf("Storage read failed: %v", err)}
}
