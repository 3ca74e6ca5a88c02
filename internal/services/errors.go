package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/fulfillment/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderReferenceNotFound indicates a referenced user, address or variant does not exist.
	ErrOrderReferenceNotFound = errors.New("order: referenced resource not found")
	// ErrOrderInvalidState indicates a transition not allowed from the current state.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the order changed since the caller read it.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderNumberExhausted indicates no unique order number could be allocated.
	ErrOrderNumberExhausted = errors.New("order: order number allocation exhausted")
	// ErrOrderUnavailable indicates the backing store is temporarily unavailable.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrOrderInvalidInput, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrOrderInvalidState, fmt.Sprintf(format, args...))
}

// mapRepositoryError translates repository failures into order sentinels. notFound selects
// the sentinel for missing documents since lookups of references and of the order itself
// surface differently.
func mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func referenceNotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrOrderReferenceNotFound, fmt.Sprintf(format, args...))
}
