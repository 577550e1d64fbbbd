package service

import (
	"errors"
	"fmt"

	"skillswap-backend/internal/repository"
)

// Domain errors. The API layer maps them to status codes with errors.Is.
var (
	ErrInvalidParty       = errors.New("invalid party")
	ErrDuplicatePending   = errors.New("duplicate pending request")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrTransactionFailure = errors.New("transaction failure")
)

// txFailure wraps a store error that aborted a transaction, unless it
// already carries a domain error.
func txFailure(op string, err error) error {
	switch {
	case errors.Is(err, ErrInvalidParty),
		errors.Is(err, ErrDuplicatePending),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation):
		return err
	case errors.Is(err, repository.ErrNoRows):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransactionFailure, err)
}
