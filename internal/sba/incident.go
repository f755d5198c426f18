package sba

import (
	"fmt"
	"time"
)

// IncidentType identifies the rule that raised an incident.
type IncidentType uint8

const (
	IncidentCallAttempts IncidentType = iota + 1
	IncidentCallCompletion
	IncidentCallDurationAverage
	IncidentCallsClosedByCallee
	IncidentCallDurationCumulative
	IncidentCallsConcurrent
)

var incidentNames = map[IncidentType]string{
	IncidentCallAttempts:           "CALL_ATTEMPTS",
	IncidentCallCompletion:         "CALL_COMPLETION",
	IncidentCallDurationAverage:    "CALL_DURATION_AVERAGE",
	IncidentCallsClosedByCallee:    "CALLS_CLOSED_BY_CALLEE",
	IncidentCallDurationCumulative: "CALL_DURATION_CUMULATIVE",
	IncidentCallsConcurrent:        "CALLS_CONCURRENT",
}

func (t IncidentType) String() string {
	if s, ok := incidentNames[t]; ok {
		return s
	}
	return "GENERIC"
}

func (t IncidentType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *IncidentType) UnmarshalText(b []byte) error {
	for k, v := range incidentNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown incident type %q", b)
}

// Incident is one rule violation for one caller in one analyzer pass.
type Incident struct {
	ID           string       `json:"id"`
	Type         IncidentType `json:"type"`
	Caller       string       `json:"caller"`
	Period       int          `json:"period_minutes"`
	Value        float64      `json:"value"`
	HigherIsEvil bool         `json:"higher_is_evil"`
	Reason       string       `json:"reason"`
	Timestamp    time.Time    `json:"timestamp"`
}

// WorseThan reports whether inc is more severe than other of the same type.
func (inc Incident) WorseThan(other Incident) bool {
	if inc.HigherIsEvil {
		return inc.Value > other.Value
	}
	return inc.Value < other.Value
}
