// Package sba implements signaling-based analysis: the per-caller event
// history and the periodic rule evaluation that turns it into incidents.
package sba

import (
	"time"

	"firestige.xyz/callx/internal/sip"
)

// EventType names the transaction an event was recorded for.
type EventType uint8

const (
	EventInvite EventType = iota + 1
	EventBye
	EventCancel
	EventOptions
)

func (t EventType) String() string {
	switch t {
	case EventInvite:
		return "INVITE"
	case EventBye:
		return "BYE"
	case EventCancel:
		return "CANCEL"
	case EventOptions:
		return "OPTIONS"
	default:
		return "GENERIC"
	}
}

// Header carries the fields shared by every event.
// A FinalCode of 0 marks an event recorded for the initial request.
type Header struct {
	Timestamp   time.Time
	CallID      string
	Caller      sip.FromTo
	Initiator   sip.FromTo
	FinalCode   int
	FinalReason string
}

// Event is one of InviteEvent, ByeEvent, CancelEvent or OptionsEvent.
// Events are immutable once recorded.
type Event interface {
	Type() EventType
	Head() *Header
}

type InviteEvent struct {
	Header
	Reinvite  bool
	Acked     bool
	Cancelled bool
}

type ByeEvent struct {
	Header
	// Duration is the time from call creation to this milestone.
	Duration time.Duration
}

type CancelEvent struct {
	Header
}

type OptionsEvent struct {
	Header
}

func (e *InviteEvent) Type() EventType  { return EventInvite }
func (e *ByeEvent) Type() EventType     { return EventBye }
func (e *CancelEvent) Type() EventType  { return EventCancel }
func (e *OptionsEvent) Type() EventType { return EventOptions }

func (e *InviteEvent) Head() *Header  { return &e.Header }
func (e *ByeEvent) Head() *Header     { return &e.Header }
func (e *CancelEvent) Head() *Header  { return &e.Header }
func (e *OptionsEvent) Head() *Header { return &e.Header }
