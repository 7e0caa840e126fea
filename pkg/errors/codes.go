package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
// Codes are grouped by module prefix ("COMMON", "KARIN").
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeRateLimited        ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeMessagingError     ErrorCode = "COMMON_014"
	ErrCodeStorageError       ErrorCode = "COMMON_015"
)

// Case lifecycle and compliance engine error codes.
const (
	ErrCodeValidation              ErrorCode = "KARIN_001"
	ErrCodeInvalidTransition       ErrorCode = "KARIN_002"
	ErrCodeTerminalStateViolation  ErrorCode = "KARIN_003"
	ErrCodeConcurrencyConflict     ErrorCode = "KARIN_004"
	ErrCodeAlreadyDecided          ErrorCode = "KARIN_005"
	ErrCodeExternalUnavailable     ErrorCode = "KARIN_006"
	ErrCodeCatalogueIntegrity      ErrorCode = "KARIN_007"
	ErrCodeExtensionNotAllowed     ErrorCode = "KARIN_008"
	ErrCodeExtensionStale          ErrorCode = "KARIN_009"
	ErrCodeCaseNotFound            ErrorCode = "KARIN_010"
	ErrCodeExtensionNotFound       ErrorCode = "KARIN_011"
	ErrCodeApproverNotAuthorized   ErrorCode = "KARIN_012"
	ErrCodeExtensionAlreadyPending ErrorCode = "KARIN_013"
)

// Aliases kept short for call sites.
const (
	CodeOK       = ErrorCode("OK")
	CodeUnknown  = ErrorCode("UNKNOWN")
	CodeInternal = ErrCodeInternal
	CodeNotFound = ErrCodeNotFound
	CodeConflict = ErrCodeConflict
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeRateLimited:        http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeMessagingError:     http.StatusInternalServerError,
	ErrCodeStorageError:       http.StatusInternalServerError,

	ErrCodeValidation:              http.StatusUnprocessableEntity,
	ErrCodeInvalidTransition:       http.StatusConflict,
	ErrCodeTerminalStateViolation:  http.StatusConflict,
	ErrCodeConcurrencyConflict:     http.StatusConflict,
	ErrCodeAlreadyDecided:          http.StatusConflict,
	ErrCodeExternalUnavailable:     http.StatusServiceUnavailable,
	ErrCodeCatalogueIntegrity:      http.StatusInternalServerError,
	ErrCodeExtensionNotAllowed:     http.StatusUnprocessableEntity,
	ErrCodeExtensionStale:          http.StatusConflict,
	ErrCodeCaseNotFound:            http.StatusNotFound,
	ErrCodeExtensionNotFound:       http.StatusNotFound,
	ErrCodeApproverNotAuthorized:   http.StatusForbidden,
	ErrCodeExtensionAlreadyPending: http.StatusConflict,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeRateLimited:        "rate limit exceeded",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeMessagingError:     "messaging error",
	ErrCodeStorageError:       "object storage error",

	ErrCodeValidation:              "validation failed",
	ErrCodeInvalidTransition:       "stage transition not allowed",
	ErrCodeTerminalStateViolation:  "case is closed",
	ErrCodeConcurrencyConflict:     "case was modified concurrently",
	ErrCodeAlreadyDecided:          "extension request already decided",
	ErrCodeExternalUnavailable:     "external collaborator unavailable",
	ErrCodeCatalogueIntegrity:      "reference catalogue is incomplete or malformed",
	ErrCodeExtensionNotAllowed:     "extension not allowed for this stage",
	ErrCodeExtensionStale:          "extension request no longer matches the case stage",
	ErrCodeCaseNotFound:            "case not found",
	ErrCodeExtensionNotFound:       "extension request not found",
	ErrCodeApproverNotAuthorized:   "actor may not decide extension requests",
	ErrCodeExtensionAlreadyPending: "an extension request is already pending for this stage",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
