package errors

// Projection error codes.
const (
	CodeChangesetInvalid        = "CHANGESET_INVALID"
	CodeSlotNotFound            = "SLOT_NOT_FOUND"
	CodeSlotFaulted             = "SLOT_FAULTED"
	CodeManualPollDisabled      = "MANUAL_POLL_DISABLED"
	CodeEngineNotRunning        = "ENGINE_NOT_RUNNING"
	CodeCheckpointPersistFailed = "CHECKPOINT_PERSIST_FAILED"
	CodeReadModelUnavailable    = "READ_MODEL_UNAVAILABLE"
)

// Commit log error codes.
const (
	CodeCommitLogUnavailable = "COMMIT_LOG_UNAVAILABLE"
)

// Identity error codes.
const (
	CodeAliasNotFound     = "ALIAS_NOT_FOUND"
	CodeIdentityNotFound  = "IDENTITY_NOT_FOUND"
	CodeIdentityInvalid   = "IDENTITY_INVALID"
	CodeTranslatorUnknown = "TRANSLATOR_UNKNOWN"
)

// Auth and validation error codes.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInvalidLogLevel  = "INVALID_LOG_LEVEL"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrAliasNotFoundf creates an alias-not-found error.
func ErrAliasNotFoundf(kind, alias string) *AppError {
	return NotFound(CodeAliasNotFound, "alias is not mapped to an identity").
		WithParams(map[string]interface{}{"kind": kind, "alias": alias})
}

// ErrSlotNotFoundf creates a slot-not-found error.
func ErrSlotNotFoundf(slot string) *AppError {
	return NotFound(CodeSlotNotFound, "projection slot is not configured").
		WithParams(map[string]interface{}{"slot": slot})
}

// ErrManualPollDisabled is returned when a poll is requested while the engine
// runs in continuous mode.
func ErrManualPollDisabled() *AppError {
	return Conflict(CodeManualPollDisabled, "engine is not running in manual poll mode")
}
