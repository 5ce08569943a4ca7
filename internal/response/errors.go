package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrNoQuestions          ErrCode = "NO_QUESTIONS_AVAILABLE"
	ErrNoActiveSession      ErrCode = "NO_ACTIVE_SESSION"
	ErrSessionCompleted     ErrCode = "SESSION_COMPLETED"
	ErrInvalidTransition    ErrCode = "INVALID_TRANSITION"
	ErrIndexOutOfRange      ErrCode = "QUESTION_INDEX_OUT_OF_RANGE"
	ErrSubmitNotPersisted   ErrCode = "SUBMIT_NOT_PERSISTED"
	ErrExitNotPersisted     ErrCode = "EXIT_NOT_PERSISTED"
	ErrSessionUnrecoverable ErrCode = "SESSION_UNRECOVERABLE"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrNotFound:
		return "Resource not found."
	case ErrNoQuestions:
		return "Not enough questions are available to start a mock test."
	case ErrNoActiveSession:
		return "You have no mock test in progress."
	case ErrSessionCompleted:
		return "This mock test has already been completed."
	case ErrInvalidTransition:
		return "This action is not allowed in the session's current state."
	case ErrIndexOutOfRange:
		return "The requested question does not exist in this test."
	case ErrSubmitNotPersisted:
		return "Your submission could not be saved. Please try again."
	case ErrExitNotPersisted:
		return "Your latest progress could not be saved. The session remains resumable from the last autosave."
	case ErrSessionUnrecoverable:
		return "Your previous session could not be restored. Please start a new test."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
