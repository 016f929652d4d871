// Package apperrors provides the core's error taxonomy.
package apperrors

import (
	"errors"
	"fmt"
)

// Error codes, one per failure class.
const (
	CodeBusNoSubscriber    = "BUS_NO_SUBSCRIBER"
	CodeBusClosed          = "BUS_SUBSCRIBER_CLOSED"
	CodeStoreNotFound      = "STORE_NOT_FOUND"
	CodeStoreConflict      = "STORE_CONFLICT"
	CodeStoreIO            = "STORE_IO"
	CodeLLMTimeout         = "LLM_TIMEOUT"
	CodeLLMBadRequest      = "LLM_BAD_REQUEST"
	CodeLLMServerError     = "LLM_SERVER_ERROR"
	CodeLLMRateLimited     = "LLM_RATE_LIMITED"
	CodeWatcherPath        = "WATCHER_PATH_MISSING"
	CodeWatcherNotGit      = "WATCHER_NOT_A_REPO"
	CodeWatcherGit         = "WATCHER_GIT_FAILURE"
	CodeLauncherNoCLI      = "LAUNCHER_CLI_NOT_FOUND"
	CodeLauncherSwitch     = "LAUNCHER_MODEL_SWITCH_FAILED"
	CodeLauncherSpawn      = "LAUNCHER_SPAWN_FAILED"
	CodeMergeConflict      = "MERGE_CONFLICT"
	CodeMergeFailed        = "MERGE_FAILED"
	CodeValidationState    = "VALIDATION_INVALID_TRANSITION"
	CodeValidationMismatch = "VALIDATION_WORKFLOW_MISMATCH"
	CodeValidationMissing  = "VALIDATION_MISSING_FIELD"
)

// AppError carries a stable code alongside a human message and an
// optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether err is an *AppError carrying the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
