package call

import (
	"time"

	"firestige.xyz/callx/internal/sip"
)

// TransactionID identifies a transaction within its call.
type TransactionID struct {
	Branch string
	Method sip.Method
}

// Transaction is one request/response exchange. It is owned by its call
// and only touched with the call's lock held.
type Transaction struct {
	ID        TransactionID
	Created   time.Time
	Activity  time.Time
	Initiator sip.FromTo
	SentBy    string
	CSeq      uint32
	State     StatePair

	FinalCode   int
	FinalReason string
	Cancelled   bool
	Acked       bool
	// Reinvite marks an INVITE sent within a confirmed dialog.
	Reinvite bool
}

func newTransaction(msg *sip.Message, state StatePair, now time.Time) *Transaction {
	return &Transaction{
		ID:        TransactionID{Branch: msg.Branch, Method: msg.CSeqMethod},
		Created:   now,
		Activity:  now,
		Initiator: msg.From,
		SentBy:    msg.SentBy,
		CSeq:      msg.CSeqNum,
		State:     state,
	}
}

func (t *Transaction) setFinal(msg *sip.Message) {
	t.FinalCode = msg.StatusCode
	t.FinalReason = msg.Reason
}
