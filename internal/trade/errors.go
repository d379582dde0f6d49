package trade

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown      Kind = ""
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindExpired      Kind = "expired"
	KindTransient    Kind = "transient"
)

var (
	ErrSelfTrade      = errors.New("cannot trade with yourself")
	ErrNoRecipient    = errors.New("trade recipient is required")
	ErrEmptySelection = errors.New("both sides of a trade need at least one card")
	ErrDuplicateCard  = errors.New("card selected more than once")
	ErrCardLocked     = errors.New("card is locked")
	ErrCardNotOwned   = errors.New("card is not owned by that party")
	ErrTradesDisabled = errors.New("recipient is not accepting trades")

	ErrTradeNotFound = errors.New("trade not found")
	ErrUserNotFound  = errors.New("trader not found")

	ErrNotPending       = errors.New("trade is no longer pending")
	ErrOwnershipChanged = errors.New("card ownership changed since the trade was proposed")
	ErrDuplicateRequest = errors.New("duplicate trade request")

	ErrNotParty         = errors.New("not a party to this trade")
	ErrNotRecipient     = errors.New("only the recipient can do that")
	ErrNotProposer      = errors.New("only the proposer can do that")
	ErrReadOnlyIdentity = errors.New("identity cannot modify trades")

	ErrTradeExpired = errors.New("trade has expired")

	ErrTransient = errors.New("trade storage unavailable")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrSelfTrade, KindValidation},
	{ErrNoRecipient, KindValidation},
	{ErrEmptySelection, KindValidation},
	{ErrDuplicateCard, KindValidation},
	{ErrCardLocked, KindValidation},
	{ErrCardNotOwned, KindValidation},
	{ErrTradesDisabled, KindValidation},
	{ErrTradeNotFound, KindNotFound},
	{ErrUserNotFound, KindNotFound},
	{ErrNotPending, KindConflict},
	{ErrOwnershipChanged, KindConflict},
	{ErrDuplicateRequest, KindConflict},
	{ErrNotParty, KindUnauthorized},
	{ErrNotRecipient, KindUnauthorized},
	{ErrNotProposer, KindUnauthorized},
	{ErrReadOnlyIdentity, KindUnauthorized},
	{ErrTradeExpired, KindExpired},
	{ErrTransient, KindTransient},
}

func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Terminal reports whether the trade can no longer be acted on, so retrying is pointless.
func Terminal(err error) bool {
	switch KindOf(err) {
	case KindExpired, KindNotFound:
		return true
	case KindConflict:
		return errors.Is(err, ErrNotPending)
	default:
		return false
	}
}

func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// transient hides the driver error from the chain; only its text survives.
func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}
