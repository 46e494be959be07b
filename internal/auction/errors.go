package auction

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by auction operations. Callers match them with
// errors.Is; the concrete value is usually a *Rejection carrying a reason.
var (
	ErrValidation        = errors.New("invalid auction")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSelfPurchase      = errors.New("cannot buy your own auction")
	ErrExpired           = errors.New("auction has expired")
	ErrAlreadySold       = errors.New("auction already sold")
	ErrNetwork           = errors.New("auction service unavailable")
	ErrInvalidTransition = errors.New("invalid auction transition")
	ErrNotFound          = errors.New("auction not found")
)

// Rejection is a refused operation. Kind is one of the sentinel errors
// above. For ErrAlreadySold, Auction holds the authoritative record so the
// caller can see who actually bought it.
type Rejection struct {
	Kind    error
	Reason  string
	Auction *Record
}

// Reject builds a Rejection of kind with a formatted reason.
func Reject(kind error, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return r.Kind.Error()
	}
	return r.Kind.Error() + ": " + r.Reason
}

func (r *Rejection) Unwrap() error { return r.Kind }

// WithAuction attaches the authoritative record.
func (r *Rejection) WithAuction(rec Record) *Rejection {
	r.Auction = &rec
	return r
}

// AsRejection extracts a Rejection from err. Errors that are not
// rejections but wrap a sentinel are converted; anything else is treated
// as a network failure.
func AsRejection(err error) *Rejection {
	if err == nil {
		return nil
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej
	}
	for _, kind := range []error{
		ErrValidation, ErrInsufficientFunds, ErrSelfPurchase, ErrExpired,
		ErrAlreadySold, ErrInvalidTransition, ErrNotFound, ErrNetwork,
	} {
		if errors.Is(err, kind) {
			return &Rejection{Kind: kind, Reason: strings.TrimPrefix(err.Error(), kind.Error()+": ")}
		}
	}
	return &Rejection{Kind: ErrNetwork, Reason: err.Error()}
}

// Retryable reports whether err is worth sending again.
func Retryable(err error) bool { return errors.Is(err, ErrNetwork) }

// ValidationError lists every problem found in a creation request.
type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + strings.Join(v.Problems, "; ")
}

func (v *ValidationError) Is(target error) bool { return target == ErrValidation }
