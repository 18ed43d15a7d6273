package errs

type ErrorMessage struct {
	Message string
}

func (e *ErrorMessage) Error() string { return e.Message }

type NotFoundError struct {
	ErrorMessage
}

type AlreadyExistsError struct {
	ErrorMessage
}

type ValidationError struct {
	ErrorMessage
}

// AuthExpiredError signals a 401-equivalent response from an external
// account (e.g. a revoked Gmail grant). Never retried inline; the owning
// mail account gets flagged for reauthorization instead.
type AuthExpiredError struct {
	ErrorMessage
	Account string
}

type DatabaseError struct {
	ErrorMessage
	Operation string
}

// ExternalServiceError wraps failures from Gmail, Vertex, the renderer or
// blob storage. Transient failures are recorded on the current search
// attempt and skipped rather than aborting the whole batch.
type ExternalServiceError struct {
	ErrorMessage
	Service   string
	Transient bool
}

func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{
		ErrorMessage: ErrorMessage{Message: message},
	}
}

func NewAlreadyExistsError(message string) *AlreadyExistsError {
	return &AlreadyExistsError{
		ErrorMessage: ErrorMessage{Message: message},
	}
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		ErrorMessage: ErrorMessage{Message: message},
	}
}

func NewAuthExpiredError(account, message string) *AuthExpiredError {
	return &AuthExpiredError{
		ErrorMessage: ErrorMessage{Message: message},
		Account:      account,
	}
}

func NewDatabaseError(operation, message string) *DatabaseError {
	return &DatabaseError{
		ErrorMessage: ErrorMessage{Message: message},
		Operation:    operation,
	}
}

func NewExternalServiceError(service, message string, transient bool) *ExternalServiceError {
	return &ExternalServiceError{
		ErrorMessage: ErrorMessage{Message: message},
		Service:      service,
		Transient:    transient,
	}
}
