package shared

// DomainError is a business-rule violation with a stable machine code.
// The HTTP layer maps codes onto the public ERR_* vocabulary; everything
// it does not recognize degrades to a 500.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a domain error with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Sentinel errors shared across repositories. Repositories translate
// driver-level failures into these so services can branch with errors.Is
// without importing gorm.
var (
	ErrNotFound      = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists = NewDomainError("ALREADY_EXISTS", "Resource already exists")
)
