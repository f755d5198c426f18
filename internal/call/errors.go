package call

import "errors"

// Protocol anomalies. The offending message is dropped and state is left unchanged.
var (
	ErrUnknownCall       = errors.New("callx: no call for call-id")
	ErrCallTerminating   = errors.New("callx: request within terminating call")
	ErrNestedInvite      = errors.New("callx: nested invite")
	ErrNoTransaction     = errors.New("callx: no matching transaction")
	ErrStateMismatch     = errors.New("callx: transaction state mismatch")
	ErrSentByMismatch    = errors.New("callx: sent-by mismatch")
	ErrCSeqMismatch      = errors.New("callx: cseq mismatch")
	ErrRetransmission    = errors.New("callx: request retransmission")
	ErrUnsupportedMethod = errors.New("callx: unsupported method")
	ErrMissingCallID     = errors.New("callx: missing call-id")
	ErrMalformedCSeq     = errors.New("callx: missing or malformed cseq")
	ErrMalformedFromTo   = errors.New("callx: missing or malformed from/to")
	ErrMissingBranch     = errors.New("callx: missing via branch")
)

// anomalyKind maps an anomaly to its metric label.
func anomalyKind(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCall):
		return "unknown_call"
	case errors.Is(err, ErrCallTerminating):
		return "call_terminating"
	case errors.Is(err, ErrNestedInvite):
		return "nested_invite"
	case errors.Is(err, ErrNoTransaction):
		return "no_transaction"
	case errors.Is(err, ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, ErrSentByMismatch):
		return "sent_by_mismatch"
	case errors.Is(err, ErrCSeqMismatch):
		return "cseq_mismatch"
	case errors.Is(err, ErrRetransmission):
		return "retransmission"
	case errors.Is(err, ErrUnsupportedMethod):
		return "unsupported_method"
	case errors.Is(err, ErrMissingCallID):
		return "missing_call_id"
	case errors.Is(err, ErrMalformedCSeq):
		return "malformed_cseq"
	case errors.Is(err, ErrMalformedFromTo):
		return "malformed_from_to"
	case errors.Is(err, ErrMissingBranch):
		return "missing_branch"
	default:
		return "other"
	}
}
