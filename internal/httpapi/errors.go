package httpapi

import (
	"errors"
	"net/http"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/ledger"
)

// Error codes carried in error responses.
const (
	CodeValidation        = "validation"
	CodeInsufficientFunds = "insufficient_funds"
	CodeSelfPurchase      = "self_purchase"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeAlreadySold       = "already_sold"
	CodeInvalidTransition = "invalid_transition"
	CodeAlreadyClaimed    = "already_claimed"
	CodeExpired           = "expired"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal"
)

// ErrForbidden is returned when the caller may not perform an operation.
var ErrForbidden = errors.New("forbidden")

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Auction *auction.Record `json:"auction,omitempty"`
}

var errorCodes = []struct {
	kind   error
	status int
	code   string
}{
	{auction.ErrValidation, http.StatusBadRequest, CodeValidation},
	{auction.ErrInsufficientFunds, http.StatusPaymentRequired, CodeInsufficientFunds},
	{auction.ErrSelfPurchase, http.StatusForbidden, CodeSelfPurchase},
	{ErrForbidden, http.StatusForbidden, CodeForbidden},
	{auction.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{auction.ErrAlreadySold, http.StatusConflict, CodeAlreadySold},
	{auction.ErrInvalidTransition, http.StatusConflict, CodeInvalidTransition},
	{ledger.ErrAlreadyClaimed, http.StatusConflict, CodeAlreadyClaimed},
	{auction.ErrExpired, http.StatusGone, CodeExpired},
}

// errorResponse maps err onto a status code and body.
func errorResponse(err error) (int, ErrorBody) {
	for _, ec := range errorCodes {
		if !errors.Is(err, ec.kind) {
			continue
		}
		body := ErrorBody{Code: ec.code, Message: err.Error()}
		var rej *auction.Rejection
		if errors.As(err, &rej) {
			body.Auction = rej.Auction
		}
		return ec.status, body
	}
	return http.StatusInternalServerError, ErrorBody{Code: CodeInternal, Message: "internal error"}
}

// kindOf maps an error code back onto the sentinel the client reports.
func kindOf(code string) (error, bool) {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.kind, true
		}
	}
	return nil, false
}
