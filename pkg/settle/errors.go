package settle

import "fmt"

// Stable failure codes carried on settlement results and API responses.
// Clients match on these, so they never change.
const (
	CodeInvalidSides      = "invalid_sides"
	CodeMissingNetwork    = "missing_network_configuration"
	CodeTokenNotSet       = "token_not_configured"
	CodeAskBaseEscrow     = "insufficient_ask_base_escrow"
	CodeBidQuoteEscrow    = "insufficient_bid_quote_escrow"
	CodeSignerNotOwner    = "signer_not_owner"
	CodeSourceFailed      = "source_failed"
	CodeSameChainAtomic   = "same_chain_atomic"
	CodeSubmissionFailed  = "submission_failed"
	CodeDestinationFailed = "destination_failed"
)

// Error is a settlement failure with a stable code and a human detail.
type Error struct {
	Code   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the failure code from err, or CodeSubmissionFailed when
// err carries none.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := err.(*Error); ok {
		return se.Code
	}
	return CodeSubmissionFailed
}
