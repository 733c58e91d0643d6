// Package apperr holds the error taxonomy shared by the pipeline components.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/MimeLyc/vidsub/pkg/log"
)

type ErrorType int

const (
	ErrUnknown ErrorType = iota
	ErrInitialization
	ErrExtraction
	ErrDuplicateRecord
	ErrAllEndpointsUnavailable
	ErrValidation
	ErrNotFound
	ErrStorage
	ErrConfig
	ErrNetwork
)

type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(errorType ErrorType, format string, args ...any) *Error {
	return New(errorType, fmt.Sprintf(format, args...))
}

func Wrap(err error, errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   err,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrInitialization:
		return "Initialization"
	case ErrExtraction:
		return "Extraction"
	case ErrDuplicateRecord:
		return "DuplicateRecord"
	case ErrAllEndpointsUnavailable:
		return "AllEndpointsUnavailable"
	case ErrValidation:
		return "Validation"
	case ErrNotFound:
		return "NotFound"
	case ErrStorage:
		return "Storage"
	case ErrConfig:
		return "Config"
	case ErrNetwork:
		return "Network"
	default:
		return "Unknown"
	}
}

// TypeOf reports the ErrorType carried anywhere in err's chain, or ErrUnknown.
func TypeOf(err error) ErrorType {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrUnknown
}

func IsErrorType(err error, errorType ErrorType) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

func IsDuplicate(err error) bool {
	return IsErrorType(err, ErrDuplicateRecord)
}

func IsAllEndpointsUnavailable(err error) bool {
	return IsErrorType(err, ErrAllEndpointsUnavailable)
}

func IsNotFound(err error) bool {
	return IsErrorType(err, ErrNotFound)
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrDuplicateRecord:
		return http.StatusConflict
	case ErrAllEndpointsUnavailable:
		return http.StatusServiceUnavailable
	case ErrNetwork, ErrExtraction:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Advice returns an operator-facing hint for the error's type.
func Advice(err error) string {
	switch TypeOf(err) {
	case ErrInitialization:
		return "Check that ffmpeg and ffprobe are installed and reachable through FFMPEG_PATH/FFPROBE_PATH"
	case ErrExtraction:
		return "The transcode job failed; verify the input container has an audio stream and the target format is supported"
	case ErrDuplicateRecord:
		return "A transcription already exists for this video; reuse it instead of transcribing again"
	case ErrAllEndpointsUnavailable:
		return "No translation endpoint answered; check TRANSLATE_ENDPOINTS and network connectivity"
	case ErrValidation:
		return "Please verify the request parameters"
	case ErrNotFound:
		return "The requested resource does not exist"
	case ErrStorage:
		return "Check DATA_DIR permissions and free disk space"
	case ErrConfig:
		return "Please check that environment variables or the settings file are set correctly"
	case ErrNetwork:
		return "Please check network connectivity to the remote service"
	default:
		return "Please review detailed error information"
	}
}

// Report logs err together with its advice and reports whether it was typed.
func Report(err error) bool {
	if err == nil {
		return false
	}
	var appErr *Error
	if !errors.As(err, &appErr) {
		log.Error("Unknown error: %v", err)
		return false
	}
	log.Error("Error detail: %v | advice: %s", err, Advice(err))
	return true
}
