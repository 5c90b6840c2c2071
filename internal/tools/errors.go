package tools

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotFound indicates the tool id does not exist.
	ErrToolNotFound = errors.New("tools: tool not found")
	// ErrNotToolOwner indicates a mutation by someone other than the submitter.
	ErrNotToolOwner = errors.New("tools: caller does not own tool")
	// ErrInvalidTool indicates a submission failed validation.
	ErrInvalidTool = errors.New("tools: invalid tool")
	// ErrInvalidQuery indicates unusable list parameters.
	ErrInvalidQuery = errors.New("tools: invalid query")
	// ErrAuthRequired indicates an upvote without a user.
	ErrAuthRequired = errors.New("tools: authentication required")

	errMissingDatabase = errors.New("database handle is required")
)

// ServiceError carries a stable <operation>.<reason> code next to the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "tools.service.new"
	opList          = "tools.list"
	opTrending      = "tools.trending"
	opGet           = "tools.get"
	opCreate        = "tools.create"
	opDelete        = "tools.delete"
	opUpvote        = "tools.upvote"
	opPurgeUserData = "tools.purge_user_data"

	reasonMissingDatabase = "missing_database"
	reasonInvalidInput    = "invalid_input"
	reasonNotFound        = "not_found"
	reasonForbidden       = "forbidden"
	reasonTimeout         = "timeout"
	reasonQueryFailed     = "query_failed"
	reasonWriteFailed     = "write_failed"
	reasonUnauthenticated = "unauthenticated"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IsTimeout reports whether err came from a query that exceeded its deadline.
func IsTimeout(err error) bool {
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		return false
	}
	return strings.HasSuffix(serviceErr.code, "."+reasonTimeout)
}
