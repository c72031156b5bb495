package message

import "time"

// Record is the serialized form of a Message handed to remote sinks.
type Record struct {
	ID            uint64   `json:"id"`
	Time          float64  `json:"time"`
	Source        string   `json:"source"`
	Target        string   `json:"target,omitempty"`
	Names         []string `json:"names,omitempty"`
	Values        []Value  `json:"values"`
	SignalQuality *int     `json:"rssi,omitempty"`
	// Payload is the datacode rendering for the sink, when it has one.
	Payload []byte `json:"payload,omitempty"`
}

// Record returns the sink representation of m.
func (m *Message) Record() Record {
	return Record{
		ID:            m.ID,
		Time:          m.Unix(),
		Source:        m.SourceID,
		Target:        m.TargetID,
		Names:         m.Names,
		Values:        m.Values,
		SignalQuality: m.SignalQuality,
	}
}

// Timestamp converts the record time back to a time.Time.
func (r Record) Timestamp() time.Time {
	sec := int64(r.Time)
	return time.Unix(sec, int64((r.Time-float64(sec))*1e9))
}
