package pipeline

import (
	"errors"
	"fmt"
)

// Reason classifies why a frame was dropped.
type Reason string

const (
	ReasonEmptyFrame     Reason = "empty_frame"
	ReasonParse          Reason = "parse"
	ReasonByteRange      Reason = "byte_range"
	ReasonLengthMismatch Reason = "length_mismatch"
	ReasonScaleCount     Reason = "scale_count"
	ReasonDecode         Reason = "decode"
	ReasonEncode         Reason = "encode"
)

// Rejection is the error value returned when a pipeline stage drops a frame.
// It never aborts the caller's loop.
type Rejection struct {
	Stage    string
	Reason   Reason
	SourceID string
	Detail   string
	Err      error
}

func (r *Rejection) Error() string {
	msg := fmt.Sprintf("pipeline: %s rejected frame from %q: %s", r.Stage, r.SourceID, r.Reason)
	if r.Detail != "" {
		msg += ": " + r.Detail
	}
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	return msg
}

func (r *Rejection) Unwrap() error { return r.Err }

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	ok := errors.As(err, &rej)
	return rej, ok
}
