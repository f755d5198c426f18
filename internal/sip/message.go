package sip

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"firestige.xyz/callx/internal/core"
	"firestige.xyz/callx/internal/core/decoder"
)

var (
	requestLine   = regexp.MustCompile(`(?i)^(\w+?) (.*) SIP/2\.0$`)
	responseLine  = regexp.MustCompile(`(?i)^SIP/2\.0 (\d{3}) (.+)$`)
	headerField   = regexp.MustCompile(`^(.+?)\s*:\s*(.+)$`)
	sdpField      = regexp.MustCompile(`^(.)\s*=\s*(.+)$`)
	fromToValue   = regexp.MustCompile(`^("?(.+?)"?)?\s*(<(.+?)(;.*)?>)\s*(;tag=(.*))?$`)
	cseqValue     = regexp.MustCompile(`^(\d+)\s+(\w+)$`)
	viaValue      = regexp.MustCompile(`(?i)^SIP/2\.0/(UDP|TCP)\s(.*?);branch=([^,]+?)((;|,).*)?$`)
	sdpMediaAudio = regexp.MustCompile(`^audio (\d+) RTP/AVP((?: \d{1,3})+)\s*$`)
)

// Message is a decoded SIP request or response. Every string is copied out
// of the packet buffer, so the buffer may be recycled once parsing returns.
type Message struct {
	Type       MessageType
	StartLine  string
	Method     Method
	RequestURI string
	StatusCode int
	Reason     string

	Headers Fields

	CallID     string
	From       FromTo
	To         FromTo
	FromRaw    string
	ToRaw      string
	HasFrom    bool
	HasTo      bool
	HasCSeq    bool
	CSeqNum    uint32
	CSeqMethod Method
	Branch     string
	SentBy     string
	Transport  Transport

	HasSDP    bool
	SDPFields Fields
	SDP       SDP

	Src       core.SocketAddress
	Dst       core.SocketAddress
	Timestamp time.Time
}

// Category returns the status class of a response.
func (m *Message) Category() ResponseCategory {
	return CategoryOf(m.StatusCode)
}

// IsRequest reports whether m is a request of the given method.
func (m *Message) IsRequest(method Method) bool {
	return m.Type == Request && m.Method == method
}

// IsResponseTo reports whether m answers a request of the given method.
func (m *Message) IsResponseTo(method Method) bool {
	return m.Type == Response && m.CSeqMethod == method
}

// MediaSocket returns the negotiated audio socket. It is valid only when
// the SDP body carried both a connection address and an audio port.
func (m *Message) MediaSocket() core.SocketAddress {
	return m.SDP.Socket()
}

func (m *Message) String() string {
	if m.Type == Response {
		return fmt.Sprintf("%d %s (%s)", m.StatusCode, m.Reason, m.CSeqMethod)
	}
	return m.Method.String()
}

// ParsePacket parses the payload of a decoded UDP packet and records its
// addresses and capture time.
func ParsePacket(pkt *decoder.Packet) (*Message, error) {
	msg, err := Parse(pkt.Payload)
	if msg != nil {
		msg.Src = pkt.Src
		msg.Dst = pkt.Dst
		if pkt.Buf != nil {
			msg.Timestamp = pkt.Buf.Timestamp
		}
	}
	return msg, err
}

// Parse decodes a SIP message. A malformed start line returns the message
// with Type Malformed and ErrMalformedStartLine. Optional fields that do not
// match their pattern keep their zero values.
func Parse(payload []byte) (*Message, error) {
	if len(payload) == 0 {
		return nil, core.ErrEmptyMessage
	}
	lines := splitLines(string(payload))

	msg := &Message{StartLine: lines[0]}
	if !msg.parseStartLine() {
		return msg, core.ErrMalformedStartLine
	}

	// an empty line switches from SIP headers to the SDP body
	inBody := false
	for _, line := range lines[1:] {
		if line == "" {
			inBody = true
			continue
		}
		if inBody {
			if m := sdpField.FindStringSubmatch(line); m != nil {
				msg.SDPFields = append(msg.SDPFields, Field{Name: m[1], Value: m[2]})
			}
			continue
		}
		if m := headerField.FindStringSubmatch(line); m != nil {
			msg.Headers = append(msg.Headers, Field{Name: canonicalHeader(m[1]), Value: m[2]})
		}
	}

	msg.extractHeaders()

	if msg.HasSDP {
		sdp, err := parseSDP(msg.SDPFields)
		if err != nil {
			return msg, err
		}
		msg.SDP = sdp
	}
	return msg, nil
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func (m *Message) parseStartLine() bool {
	if g := requestLine.FindStringSubmatch(m.StartLine); g != nil {
		m.Type = Request
		m.Method = ParseMethod(g[1])
		m.RequestURI = g[2]
		return true
	}
	if g := responseLine.FindStringSubmatch(m.StartLine); g != nil {
		m.Type = Response
		m.StatusCode, _ = strconv.Atoi(g[1])
		m.Reason = g[2]
		return true
	}
	m.Type = Malformed
	return false
}

func (m *Message) extractHeaders() {
	if v, ok := m.Headers.Get("FROM"); ok {
		m.HasFrom = true
		m.FromRaw = v
		m.From = parseFromTo(v)
	}
	if v, ok := m.Headers.Get("TO"); ok {
		m.HasTo = true
		m.ToRaw = v
		m.To = parseFromTo(v)
	}
	if v, ok := m.Headers.Get("CALL-ID"); ok {
		m.CallID = v
	}
	if v, ok := m.Headers.Get("CSEQ"); ok {
		if g := cseqValue.FindStringSubmatch(v); g != nil {
			n, err := strconv.ParseUint(g[1], 10, 32)
			if err == nil {
				m.CSeqNum = uint32(n)
				m.HasCSeq = true
			}
			m.CSeqMethod = ParseMethod(g[2])
		}
	}
	// only the leading entry of the first Via is parsed
	if v, ok := m.Headers.Get("VIA"); ok {
		if g := viaValue.FindStringSubmatch(v); g != nil {
			if strings.EqualFold(g[1], "TCP") {
				m.Transport = TransportTCP
			} else {
				m.Transport = TransportUDP
			}
			m.SentBy = g[2]
			m.Branch = g[3]
		}
	}
	if v, ok := m.Headers.Get("CONTENT-TYPE"); ok {
		m.HasSDP = isSDPContentType(v)
	}
}

func parseFromTo(v string) FromTo {
	g := fromToValue.FindStringSubmatch(v)
	if g == nil {
		return FromTo{}
	}
	tag := g[7]
	if i := strings.IndexByte(tag, ';'); i >= 0 {
		tag = tag[:i]
	}
	return FromTo{
		DisplayName: g[2],
		Address:     g[4],
		Tag:         strings.TrimSpace(tag),
	}
}

func isSDPContentType(v string) bool {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.EqualFold(strings.TrimSpace(v), "application/sdp")
}
