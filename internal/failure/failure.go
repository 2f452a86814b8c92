// Package failure defines the error taxonomy shared by every hubverify check.
// Errors are go-errors envelopes: the text code names the failure kind and
// the "contract" metadata key names the hub contract that was violated.
package failure

import (
	"fmt"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes, one per failure kind.
const (
	CodeNetwork          = "NETWORK_ERROR"
	CodeUnexpectedStatus = "UNEXPECTED_STATUS"
	CodeMalformed        = "MALFORMED_RESPONSE"
	CodeOrderDivergence  = "ORDER_DIVERGENCE"
	CodeTimeout          = "TIMEOUT"
	CodeBoundary         = "BOUNDARY_VIOLATION"
	CodeMismatch         = "FIELD_MISMATCH"
)

// Contracts a failure can be attributed to.
const (
	ContractHub                = "hub_contract"
	ContractPaginationIdentity = "pagination_identity"
	ContractEarliestBoundary   = "earliest_boundary"
	ContractDeliveryCount      = "delivery_count"
	ContractDeliveryOrder      = "delivery_order"
)

// Missing stands in for a value absent from the shorter of two compared sequences.
const Missing = "<missing>"

func newError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// Network reports a connection-level failure reaching the hub or binding
// the callback listener.
func Network(method, url string, source error) error {
	return wrapError(source, goerrors.CategoryExternal,
		fmt.Sprintf("%s %s: network error", method, url),
		http.StatusBadGateway, CodeNetwork,
		map[string]any{
			"contract": ContractHub,
			"method":   method,
			"url":      url,
		})
}

// UnexpectedStatus reports a response whose status is not one the hub
// contract allows for the call.
func UnexpectedStatus(method, url string, expected []int, actual int) error {
	return newError(
		fmt.Sprintf("%s %s: expected status %v, got %d", method, url, expected, actual),
		goerrors.CategoryExternal, http.StatusBadGateway, CodeUnexpectedStatus,
		map[string]any{
			"contract": ContractHub,
			"method":   method,
			"url":      url,
			"expected": expected,
			"actual":   actual,
		})
}

// Malformed reports a response body that does not match the endpoint schema.
func Malformed(method, url string, source error) error {
	return wrapError(source, goerrors.CategoryExternal,
		fmt.Sprintf("%s %s: malformed response", method, url),
		http.StatusBadGateway, CodeMalformed,
		map[string]any{
			"contract": ContractHub,
			"method":   method,
			"url":      url,
		})
}

// Mismatch reports a response field whose value differs from what the call
// should have produced.
func Mismatch(method, url, field string, expected, actual any) error {
	return newError(
		fmt.Sprintf("%s %s: %s: expected %v, got %v", method, url, field, expected, actual),
		goerrors.CategoryValidation, http.StatusConflict, CodeMismatch,
		map[string]any{
			"contract": ContractHub,
			"method":   method,
			"url":      url,
			"field":    field,
			"expected": expected,
			"actual":   actual,
		})
}

// OrderDivergence reports the first index at which an observed sequence
// departs from the expected one.
func OrderDivergence(contract string, index int, expected, actual string) error {
	return newError(
		fmt.Sprintf("%s: sequences diverge at index %d: expected %q, got %q", contract, index, expected, actual),
		goerrors.CategoryValidation, http.StatusConflict, CodeOrderDivergence,
		map[string]any{
			"contract": contract,
			"index":    index,
			"expected": expected,
			"actual":   actual,
		})
}

// Timeout reports a condition that did not hold within its bound. observed
// carries the last state the condition looked at (e.g. captured/expected counts).
func Timeout(contract string, elapsed time.Duration, observed map[string]any) error {
	metadata := map[string]any{
		"contract":   contract,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	for k, v := range observed {
		metadata[k] = v
	}
	return newError(
		fmt.Sprintf("%s: condition not met after %s %v", contract, elapsed.Round(time.Millisecond), observed),
		goerrors.CategoryOperation, http.StatusGatewayTimeout, CodeTimeout, metadata)
}

// Boundary reports a value outside its allowed [lower, upper) band.
func Boundary(contract string, value, lower, upper time.Time) error {
	return newError(
		fmt.Sprintf("%s: %s outside [%s, %s)", contract,
			value.UTC().Format(time.RFC3339Nano), lower.UTC().Format(time.RFC3339Nano), upper.UTC().Format(time.RFC3339Nano)),
		goerrors.CategoryValidation, http.StatusConflict, CodeBoundary,
		map[string]any{
			"contract": contract,
			"value":    value.UTC(),
			"lower":    lower.UTC(),
			"upper":    upper.UTC(),
		})
}

// Compare checks two sequences element-wise and returns an OrderDivergence
// for the first mismatch, including a length mismatch.
func Compare(contract string, expected, actual []string) error {
	n := max(len(expected), len(actual))
	for i := range n {
		want, got := Missing, Missing
		if i < len(expected) {
			want = expected[i]
		}
		if i < len(actual) {
			got = actual[i]
		}
		if want != got {
			return OrderDivergence(contract, i, want, got)
		}
	}
	return nil
}

func rich(err error) *goerrors.Error {
	var out *goerrors.Error
	if err != nil && goerrors.As(err, &out) {
		return out
	}
	return nil
}

// Code returns the text code of a taxonomy error, or "" for anything else.
func Code(err error) string {
	if r := rich(err); r != nil {
		return r.TextCode
	}
	return ""
}

// Is reports whether err carries the given text code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}

// Metadata returns the diagnostic fields attached to a taxonomy error.
func Metadata(err error) map[string]any {
	if r := rich(err); r != nil {
		return r.Metadata
	}
	return nil
}

// Contract returns the contract a failure is attributed to.
func Contract(err error) string {
	if c, ok := Metadata(err)["contract"].(string); ok {
		return c
	}
	return ""
}
