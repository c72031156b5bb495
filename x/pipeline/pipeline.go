// Package pipeline turns raw inbound field sequences into typed, scaled,
// named messages, and renders messages into per-destination payloads.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/x/datacode"
	"github.com/compose-network/datahub/x/message"
	"github.com/compose-network/datahub/x/snapshot"
)

const (
	stageDecode = "decode"
	stageEncode = "encode"
)

// Pipeline resolves schemas from the current configuration snapshot on every
// call, so a reload takes effect on the next frame.
type Pipeline struct {
	store   *snapshot.Store
	log     zerolog.Logger
	metrics *Metrics
}

// New creates a Pipeline reading schemas from store.
func New(store *snapshot.Store, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:   store,
		log:     log.With().Str("component", "pipeline").Logger(),
		metrics: NewMetrics(),
	}
}

// Decode validates and converts one inbound frame. A non-nil error is always
// a *Rejection; the frame is dropped and the caller moves on.
func (p *Pipeline) Decode(sourceID string, fields []string, defaults Defaults, opts ...message.Option) (*message.Message, error) {
	sourceID = message.NormalizeID(sourceID)

	if len(fields) == 0 {
		return nil, p.reject(stageDecode, sourceID, ReasonEmptyFrame, "", nil)
	}

	parsed := make([]message.Value, len(fields))
	for i, f := range fields {
		v, err := message.ParseValue(strings.TrimSpace(f))
		if err != nil {
			return nil, p.reject(stageDecode, sourceID, ReasonParse, fmt.Sprintf("field %d %q", i, f), err)
		}
		parsed[i] = v
	}

	schema, _ := p.store.Load().Source(sourceID)

	values, rej := p.decodeValues(sourceID, parsed, resolveCodecPlan(schema, defaults))
	if rej != nil {
		return nil, rej
	}

	values, rej = p.scaleValues(stageDecode, sourceID, values, resolveScalePlan(schema, defaults), snapshot.Scale.Apply)
	if rej != nil {
		return nil, rej
	}

	opts = append(opts,
		message.WithValues(values...),
		message.WithNames(resolveNames(schema.Names, len(values))...),
	)
	msg := message.New(sourceID, opts...)
	p.metrics.recordAccepted(stageDecode, len(values))
	return msg, nil
}

func (p *Pipeline) decodeValues(sourceID string, parsed []message.Value, plan codecPlan) ([]message.Value, error) {
	if plan.none() {
		return parsed, nil
	}

	raw := make([]byte, len(parsed))
	for i, v := range parsed {
		b, ok := v.Int64()
		if !ok || !v.IsInt() || b < 0 || b > 255 {
			return nil, p.reject(stageDecode, sourceID, ReasonByteRange, fmt.Sprintf("field %d is %s", i, v), nil)
		}
		raw[i] = byte(b)
	}

	codes := plan.positional
	if len(codes) == 0 {
		w, ok := datacode.Width(plan.single)
		if !ok {
			return nil, p.reject(stageDecode, sourceID, ReasonDecode, "", fmt.Errorf("%w: %q", datacode.ErrUnknownCode, string(plan.single)))
		}
		if len(raw)%w != 0 {
			return nil, p.reject(stageDecode, sourceID, ReasonLengthMismatch,
				fmt.Sprintf("%d bytes is not a multiple of %q width %d", len(raw), string(plan.single), w), nil)
		}
		codes = make([]datacode.Code, len(raw)/w)
		for i := range codes {
			codes[i] = plan.single
		}
	}

	total := 0
	for _, c := range codes {
		w, ok := datacode.Width(c)
		if !ok {
			return nil, p.reject(stageDecode, sourceID, ReasonDecode, "", fmt.Errorf("%w: %q", datacode.ErrUnknownCode, string(c)))
		}
		total += w
	}
	if total != len(raw) {
		return nil, p.reject(stageDecode, sourceID, ReasonLengthMismatch,
			fmt.Sprintf("datacodes need %d bytes, frame has %d", total, len(raw)), nil)
	}

	values := make([]message.Value, 0, len(codes))
	cursor := 0
	for _, c := range codes {
		w, _ := datacode.Width(c)
		v, err := datacode.Decode(c, raw[cursor:cursor+w])
		if err != nil {
			return nil, p.reject(stageDecode, sourceID, ReasonDecode, "", err)
		}
		values = append(values, v)
		cursor += w
	}
	return values, nil
}

func (p *Pipeline) scaleValues(
	stage, sourceID string,
	values []message.Value,
	plan scalePlan,
	op func(snapshot.Scale, message.Value) message.Value,
) ([]message.Value, error) {
	switch {
	case len(plan.positional) > 0:
		if len(plan.positional) != len(values) {
			return nil, p.reject(stage, sourceID, ReasonScaleCount,
				fmt.Sprintf("%d scales for %d values", len(plan.positional), len(values)), nil)
		}
		out := make([]message.Value, len(values))
		for i, v := range values {
			out[i] = op(plan.positional[i], v)
		}
		return out, nil
	case plan.single != nil:
		out := make([]message.Value, len(values))
		for i, v := range values {
			out[i] = op(*plan.single, v)
		}
		return out, nil
	default:
		return values, nil
	}
}

// Encode renders msg for one destination adapter and stores the result in
// msg's per-destination slot. Values are looked up by the message target,
// falling back to its source; msg.Values are left untouched.
func (p *Pipeline) Encode(msg *message.Message, destination string, defaults Defaults) ([]byte, error) {
	id := msg.Destination()

	if len(msg.Values) == 0 {
		return nil, p.reject(stageEncode, id, ReasonEmptyFrame, "", nil)
	}

	schema, _ := p.store.Load().Source(id)

	values, rej := p.scaleValues(stageEncode, id, msg.Values, resolveScalePlan(schema, defaults), snapshot.Scale.Invert)
	if rej != nil {
		return nil, rej
	}

	out, rej := p.encodeValues(id, values, resolveCodecPlan(schema, defaults))
	if rej != nil {
		return nil, rej
	}

	msg.SetEncoded(destination, out)
	p.metrics.recordAccepted(stageEncode, len(values))
	return out, nil
}

func (p *Pipeline) encodeValues(id string, values []message.Value, plan codecPlan) ([]byte, error) {
	if plan.none() {
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = v.String()
		}
		return []byte(strings.Join(parts, " ")), nil
	}

	codes := plan.positional
	if len(codes) == 0 {
		codes = make([]datacode.Code, len(values))
		for i := range codes {
			codes[i] = plan.single
		}
	}
	if len(codes) != len(values) {
		return nil, p.reject(stageEncode, id, ReasonLengthMismatch,
			fmt.Sprintf("%d datacodes for %d values", len(codes), len(values)), nil)
	}

	var out []byte
	for i, v := range values {
		b, err := datacode.Encode(codes[i], v)
		if err != nil {
			return nil, p.reject(stageEncode, id, ReasonEncode, fmt.Sprintf("value %d", i), err)
		}
		out = append(out, b...)
	}
	return out, nil
}

func (p *Pipeline) reject(stage, sourceID string, reason Reason, detail string, err error) *Rejection {
	rej := &Rejection{Stage: stage, Reason: reason, SourceID: sourceID, Detail: detail, Err: err}
	p.metrics.recordRejected(stage, reason)
	p.log.Warn().
		Str("stage", stage).
		Str("source_id", sourceID).
		Str("reason", string(reason)).
		Str("detail", detail).
		AnErr("cause", err).
		Msg("Frame rejected")
	return rej
}
