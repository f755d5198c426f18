// Package call correlates SIP messages into calls, dialogs and transactions
// and tracks the RTP sinks negotiated through their SDP bodies.
package call

import "fmt"

// DialogState is the lifecycle state of a call's dialog.
type DialogState uint8

const (
	DialogUndefined DialogState = iota
	DialogInit
	DialogEarly
	DialogConfirmed
	DialogTerminating
)

func (s DialogState) String() string {
	switch s {
	case DialogInit:
		return "INIT"
	case DialogEarly:
		return "EARLY"
	case DialogConfirmed:
		return "CONFIRMED"
	case DialogTerminating:
		return "TERMINATING"
	default:
		return "UNDEFINED"
	}
}

// TxState is one side of a transaction state.
type TxState uint8

const (
	TxUndefined TxState = iota
	TxCalling
	TxProceeding
	TxTrying
	TxCompleted
	TxConfirmed
	TxTerminated
)

func (s TxState) String() string {
	switch s {
	case TxCalling:
		return "CALLING"
	case TxProceeding:
		return "PROCEEDING"
	case TxTrying:
		return "TRYING"
	case TxCompleted:
		return "COMPLETED"
	case TxConfirmed:
		return "CONFIRMED"
	case TxTerminated:
		return "TERMINATED"
	default:
		return "UNDEFINED"
	}
}

// StatePair is the (client, server) state of a transaction.
type StatePair struct {
	Client TxState
	Server TxState
}

func (p StatePair) String() string {
	return fmt.Sprintf("%s/%s", p.Client, p.Server)
}

var (
	CallingProceeding    = StatePair{TxCalling, TxProceeding}
	ProceedingProceeding = StatePair{TxProceeding, TxProceeding}
	TryingTrying         = StatePair{TxTrying, TxTrying}
	TerminatedCompleted  = StatePair{TxTerminated, TxCompleted}
	TerminatedTerminated = StatePair{TxTerminated, TxTerminated}
)

// SinkStatus is the correlation state of an RTP sink.
type SinkStatus uint8

const (
	SinkInit SinkStatus = iota
	SinkConfirmed
	SinkConfirmedInit
	SinkTerminated
)

func (s SinkStatus) String() string {
	switch s {
	case SinkInit:
		return "INIT"
	case SinkConfirmed:
		return "CONFIRMED"
	case SinkConfirmedInit:
		return "CONFIRMED_INIT"
	case SinkTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
