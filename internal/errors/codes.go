// Package errors provides structured error handling for docpipe.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (document index, blobs)
//   - 3XX: Transport errors (broker, upstream HTTP)
//   - 4XX: Validation errors (payloads, inputs)
//   - 5XX: Internal pipeline errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates document index and blob storage errors.
	CategoryStorage Category = "STORAGE"
	// CategoryTransport indicates broker and upstream HTTP errors.
	CategoryTransport Category = "TRANSPORT"
	// CategoryValidation indicates payload and input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeFileNotFound  = "ERR_201_FILE_NOT_FOUND"
	ErrCodeIndexCorrupt  = "ERR_202_INDEX_CORRUPT"
	ErrCodeStoreWrite    = "ERR_203_STORE_WRITE"
	ErrCodeIndexLock     = "ERR_204_INDEX_LOCK"

	// Transport errors (300-399)
	ErrCodeBrokerUnavailable = "ERR_301_BROKER_UNAVAILABLE"
	ErrCodePublishFailed     = "ERR_302_PUBLISH_FAILED"
	ErrCodeUpstreamFetch     = "ERR_303_UPSTREAM_FETCH"
	ErrCodeNetworkTimeout    = "ERR_304_NETWORK_TIMEOUT"
	ErrCodeUpstreamRejected  = "ERR_305_UPSTREAM_REJECTED"

	// Validation errors (400-499)
	ErrCodeMalformedMessage  = "ERR_401_MALFORMED_MESSAGE"
	ErrCodeMissingField      = "ERR_402_MISSING_FIELD"
	ErrCodeDimensionMismatch = "ERR_403_DIMENSION_MISMATCH"
	ErrCodeEmptyDocument     = "ERR_404_EMPTY_DOCUMENT"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed  = "ERR_504_CHUNKING_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryTransport
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
// Config errors are fatal (the process cannot run without valid config);
// everything else defaults to ERROR and can be overridden by the caller.
func severityFromCode(code string) Severity {
	if categoryFromCode(code) == CategoryConfig {
		return SeverityFatal
	}
	return SeverityError
}

// retryableCodes lists codes where retrying the operation can succeed.
var retryableCodes = map[string]bool{
	ErrCodeBrokerUnavailable: true,
	ErrCodePublishFailed:     true,
	ErrCodeUpstreamFetch:     true,
	ErrCodeNetworkTimeout:    true,
	ErrCodeEmbeddingFailed:   true,
	ErrCodeIndexLock:         true,
}

// isRetryableCode reports whether operations failing with this code may be retried.
func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
