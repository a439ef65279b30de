package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrInvalidState      = errors.New("workflow is terminal")
	ErrAlreadyActive     = errors.New("workflow already active")
	ErrDependencyBlocked = errors.New("dependency blocked")
	ErrUnknownState      = errors.New("unknown state code")
	ErrVersionConflict   = errors.New("workflow version conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTemporary         = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// DependencyBlockedError names the documents that prevent an obsolescence
// transition. Callers surface the blocking refs verbatim.
type DependencyBlockedError struct {
	DocumentRef  string
	BlockingRefs []string
}

func (e *DependencyBlockedError) Error() string {
	return fmt.Sprintf("document %s cannot become obsolete: blocked by [%s]",
		e.DocumentRef, strings.Join(e.BlockingRefs, ", "))
}

func (e *DependencyBlockedError) Unwrap() error {
	return ErrDependencyBlocked
}

// BlockedBy extracts the blocking refs when err is a dependency rejection.
func BlockedBy(err error) ([]string, bool) {
	var blocked *DependencyBlockedError
	if errors.As(err, &blocked) {
		return blocked.BlockingRefs, true
	}
	return nil, false
}
