package blink

import (
	"errors"
	"fmt"
	"strings"
)

// ErrWalletNotFound is returned when the account has no wallet in the configured currency.
var ErrWalletNotFound = errors.New("wallet not found")

// ErrInvalidAmount matches any *InvalidAmountError.
var ErrInvalidAmount = errors.New("invalid amount")

// TransportError means every attempt of a call failed at the HTTP or GraphQL envelope level.
type TransportError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("blink %s failed after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// InvalidAmountError is returned before any network call for non-positive amounts.
type InvalidAmountError struct {
	Amount int64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %d: must be a positive number of sats", e.Amount)
}

func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// IssuanceError carries a domain error reported by lnInvoiceCreate.
type IssuanceError struct {
	Message string
}

func (e *IssuanceError) Error() string {
	return "invoice creation failed: " + e.Message
}

// PaymentError means an outbound payment could not be submitted or was rejected.
type PaymentError struct {
	Message string
	Code    string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment failed: %s (%s)", e.Message, e.Code)
	}
	return "payment failed: " + e.Message
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// statusError is a non-200 HTTP response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// graphqlErrors is a top-level GraphQL errors list.
type graphqlErrors struct {
	Messages []string
}

func (e *graphqlErrors) Error() string {
	return "graphql errors: " + strings.Join(e.Messages, "; ")
}

// domainError is the shape of the errors field on Blink mutation payloads.
type domainError struct {
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
	Code    string   `json:"code,omitempty"`
}

func joinDomainErrors(errs []domainError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
