// Package credits defines the contract for the external credits ledger. The
// engine only needs a balance check before submission; purchase and reward
// flows live with the collaborator.
package credits

import (
	"context"
	"errors"
)

// ErrInsufficient is returned by a Gate when the account cannot cover one
// generation. It is a terminal, user-recoverable condition: the presentation
// layer offers a purchase or reward flow instead of a retry.
var ErrInsufficient = errors.New("credits: insufficient balance")

// Gate is the balance check + mutation contract.
type Gate interface {
	// Balance returns the number of generations the account can still run.
	Balance(ctx context.Context) (int, error)
	// Reserve deducts one generation, returning ErrInsufficient when the
	// balance cannot cover it.
	Reserve(ctx context.Context) error
}
