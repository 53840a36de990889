package models

import (
	"fmt"
	"strings"

	"fno-desk/internal/errors"
)

// SubmittedOrder is a basket entry the broker accepted.
type SubmittedOrder struct {
	Order StagedOrder
	Ack   OrderAck
}

// FailedOrder is a basket entry that could not be placed.
type FailedOrder struct {
	Order StagedOrder
	Err   *errors.OrderError
}

// BatchResult records the outcome of every entry in one basket submission.
type BatchResult struct {
	Succeeded []SubmittedOrder
	Failed    []FailedOrder
}

// Total returns the number of entries attempted.
func (r BatchResult) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// Summary renders the result as "N placed, M failed" followed by one line
// per failure.
func (r BatchResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d placed, %d failed", len(r.Succeeded), len(r.Failed))
	for _, f := range r.Failed {
		reason := "unknown error"
		if f.Err != nil {
			reason = f.Err.Reason
		}
		fmt.Fprintf(&b, "\n  %s: %s", f.Order.TradingSymbol, reason)
	}
	return b.String()
}
