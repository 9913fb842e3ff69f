package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode classifies store and transport failures
type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = iota
	ErrCodeNotFound
	ErrCodeDuplicate
	ErrCodeConstraint
	ErrCodeConnection
	ErrCodeTransaction
	ErrCodeTimeout
	ErrCodeValidation
	ErrCodePermission
	ErrCodeDiskSpace
	ErrCodeCorruption
	ErrCodeInternal
	ErrCodeBusy
	ErrCodeSchema
	ErrCodeNetwork
)

var codeNames = map[ErrorCode]string{
	ErrCodeNotFound:    "NOT_FOUND",
	ErrCodeDuplicate:   "DUPLICATE",
	ErrCodeConstraint:  "CONSTRAINT",
	ErrCodeConnection:  "CONNECTION",
	ErrCodeTransaction: "TRANSACTION",
	ErrCodeTimeout:     "TIMEOUT",
	ErrCodeValidation:  "VALIDATION",
	ErrCodePermission:  "PERMISSION",
	ErrCodeDiskSpace:   "DISK_SPACE",
	ErrCodeCorruption:  "CORRUPTION",
	ErrCodeInternal:    "INTERNAL",
	ErrCodeBusy:        "BUSY",
	ErrCodeSchema:      "SCHEMA",
	ErrCodeNetwork:     "NETWORK",
}

func (e ErrorCode) String() string {
	if name, ok := codeNames[e]; ok {
		return name
	}
	return "UNKNOWN"
}

// Retryable reports whether a failure of this class may succeed when repeated
func (e ErrorCode) Retryable() bool {
	switch e {
	case ErrCodeConnection, ErrCodeTimeout, ErrCodeTransaction, ErrCodeBusy, ErrCodeNetwork:
		return true
	default:
		return false
	}
}

// RepositoryError carries the failing operation, a classification and free-form context
type RepositoryError struct {
	Op        string
	Err       error
	Code      ErrorCode
	Retryable bool
	Context   map[string]string
	Timestamp time.Time
}

func (e *RepositoryError) Error() string {
	if e == nil {
		return "repository error"
	}

	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Code != ErrCodeUnknown {
		parts = append(parts, "code="+e.Code.String())
	}
	if e.Retryable {
		parts = append(parts, "retryable=true")
	}

	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, e.Context[k]))
	}

	msg := "repository error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if len(parts) == 0 {
		return msg
	}
	return msg + " [" + strings.Join(parts, " ") + "]"
}

func (e *RepositoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another RepositoryError by code
func (e *RepositoryError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*RepositoryError); ok {
		return e.Code == t.Code
	}
	return false
}

func (e *RepositoryError) IsRetryable() bool {
	return e != nil && e.Retryable
}

// GetCode, GetContext and GetTimestamp satisfy logging.ClassifiedError

func (e *RepositoryError) GetCode() string {
	if e == nil {
		return ErrCodeUnknown.String()
	}
	return e.Code.String()
}

func (e *RepositoryError) GetContext() map[string]string {
	if e == nil || e.Context == nil {
		return map[string]string{}
	}
	return e.Context
}

func (e *RepositoryError) GetTimestamp() time.Time {
	if e == nil {
		return time.Time{}
	}
	return e.Timestamp
}

// NewRepositoryError builds a classified error; retryability follows the code,
// and unknown errors fall back to message sniffing
func NewRepositoryError(op string, err error, code ErrorCode) *RepositoryError {
	return &RepositoryError{
		Op:        op,
		Err:       err,
		Code:      code,
		Retryable: isRetryable(code, err),
		Context:   map[string]string{},
		Timestamp: time.Now(),
	}
}

// NewRepositoryErrorWithContext is NewRepositoryError with a copy of ctx attached
func NewRepositoryErrorWithContext(op string, err error, code ErrorCode, ctx map[string]string) *RepositoryError {
	repoErr := NewRepositoryError(op, err, code)
	for k, v := range ctx {
		repoErr.Context[k] = v
	}
	return repoErr
}

func isRetryable(code ErrorCode, err error) bool {
	if code != ErrCodeUnknown {
		return code.Retryable()
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"temporary", "busy", "locked"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func codeOf(err error) ErrorCode {
	var repoErr *RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.Code
	}
	return ErrCodeUnknown
}

func IsNotFound(err error) bool   { return codeOf(err) == ErrCodeNotFound }
func IsDuplicate(err error) bool  { return codeOf(err) == ErrCodeDuplicate }
func IsConstraint(err error) bool { return codeOf(err) == ErrCodeConstraint }
func IsTimeout(err error) bool    { return codeOf(err) == ErrCodeTimeout }
func IsValidation(err error) bool { return codeOf(err) == ErrCodeValidation }
func IsBusy(err error) bool       { return codeOf(err) == ErrCodeBusy }
func IsNetwork(err error) bool    { return codeOf(err) == ErrCodeNetwork }

// IsConstraintViolation covers unique and other integrity failures alike
func IsConstraintViolation(err error) bool {
	code := codeOf(err)
	return code == ErrCodeDuplicate || code == ErrCodeConstraint
}

// IsRetryable reports whether err is a RepositoryError marked retryable
func IsRetryable(err error) bool {
	var repoErr *RepositoryError
	return errors.As(err, &repoErr) && repoErr.Retryable
}
