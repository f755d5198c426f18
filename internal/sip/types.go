// Package sip decodes SIP messages and their SDP bodies into structured fields.
package sip

import "strings"

// Method is a SIP request method.
type Method uint8

const (
	MethodUndefined Method = iota
	MethodInvite
	MethodAck
	MethodBye
	MethodCancel
	MethodRegister
	MethodOptions
	MethodInfo
)

var methodNames = map[Method]string{
	MethodUndefined: "UNDEFINED",
	MethodInvite:    "INVITE",
	MethodAck:       "ACK",
	MethodBye:       "BYE",
	MethodCancel:    "CANCEL",
	MethodRegister:  "REGISTER",
	MethodOptions:   "OPTIONS",
	MethodInfo:      "INFO",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return "UNDEFINED"
}

// ParseMethod maps a method token to a Method, ignoring case.
func ParseMethod(token string) Method {
	switch strings.ToUpper(token) {
	case "INVITE":
		return MethodInvite
	case "ACK":
		return MethodAck
	case "BYE":
		return MethodBye
	case "CANCEL":
		return MethodCancel
	case "REGISTER":
		return MethodRegister
	case "OPTIONS":
		return MethodOptions
	case "INFO":
		return MethodInfo
	default:
		return MethodUndefined
	}
}

// MessageType classifies the start line.
type MessageType uint8

const (
	Malformed MessageType = iota
	Request
	Response
)

func (t MessageType) String() string {
	switch t {
	case Request:
		return "request"
	case Response:
		return "response"
	default:
		return "malformed"
	}
}

// ResponseCategory is the class of a status code.
type ResponseCategory uint8

const (
	CategoryInvalid ResponseCategory = iota
	CategoryProvisional
	CategorySuccess
	CategoryRedirection
	CategoryClientError
	CategoryServerError
	CategoryGlobalFailure
)

// CategoryOf returns the class of a status code.
func CategoryOf(code int) ResponseCategory {
	switch {
	case code >= 100 && code <= 199:
		return CategoryProvisional
	case code >= 200 && code <= 299:
		return CategorySuccess
	case code >= 300 && code <= 399:
		return CategoryRedirection
	case code >= 400 && code <= 499:
		return CategoryClientError
	case code >= 500 && code <= 599:
		return CategoryServerError
	case code >= 600 && code <= 699:
		return CategoryGlobalFailure
	default:
		return CategoryInvalid
	}
}

// Transport is the protocol named in the Via sent-protocol.
type Transport uint8

const (
	TransportUndefined Transport = iota
	TransportUDP
	TransportTCP
)

func (t Transport) String() string {
	switch t {
	case TransportUDP:
		return "UDP"
	case TransportTCP:
		return "TCP"
	default:
		return "UNDEFINED"
	}
}

// FromTo is the decomposed value of a From or To header.
type FromTo struct {
	Tag         string `json:"tag,omitempty"`
	Address     string `json:"address,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Field is one name/value pair of a header block or SDP body.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered multimap. Duplicate names keep arrival order.
type Fields []Field

// Get returns the first value stored under name.
func (f Fields) Get(name string) (string, bool) {
	for _, fl := range f {
		if fl.Name == name {
			return fl.Value, true
		}
	}
	return "", false
}

// Values returns every value stored under name, in order.
func (f Fields) Values(name string) []string {
	var out []string
	for _, fl := range f {
		if fl.Name == name {
			out = append(out, fl.Value)
		}
	}
	return out
}

// compactNames maps single-letter header forms to their long names.
var compactNames = map[string]string{
	"I": "CALL-ID",
	"F": "FROM",
	"T": "TO",
	"V": "VIA",
	"C": "CONTENT-TYPE",
	"L": "CONTENT-LENGTH",
	"M": "CONTACT",
	"E": "CONTENT-ENCODING",
	"K": "SUPPORTED",
	"S": "SUBJECT",
}

func canonicalHeader(name string) string {
	upper := strings.ToUpper(name)
	if long, ok := compactNames[upper]; ok {
		return long
	}
	return upper
}
