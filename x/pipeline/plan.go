package pipeline

import (
	"strconv"

	"github.com/compose-network/datahub/x/datacode"
	"github.com/compose-network/datahub/x/snapshot"
)

// Defaults are the adapter-level fallbacks used when a source schema does not
// set a datacode or scale.
type Defaults struct {
	Datacode datacode.Code
	Scale    *snapshot.Scale
}

// codecPlan is the resolved datacode layout for one frame. Exactly one of
// positional or single applies; single.IsNone() means pass-through.
type codecPlan struct {
	positional []datacode.Code
	single     datacode.Code
}

func (p codecPlan) none() bool {
	return len(p.positional) == 0 && p.single.IsNone()
}

// Precedence: positional datacodes, then the source datacode, then the
// adapter default.
func resolveCodecPlan(schema snapshot.SourceSchema, d Defaults) codecPlan {
	switch {
	case len(schema.Datacodes) > 0:
		return codecPlan{positional: schema.Datacodes}
	case schema.Datacode != nil:
		return codecPlan{single: *schema.Datacode}
	default:
		return codecPlan{single: d.Datacode}
	}
}

type scalePlan struct {
	positional []snapshot.Scale
	single     *snapshot.Scale
}

// Same precedence as resolveCodecPlan.
func resolveScalePlan(schema snapshot.SourceSchema, d Defaults) scalePlan {
	switch {
	case len(schema.Scales) > 0:
		return scalePlan{positional: schema.Scales}
	case schema.Scale != nil:
		return scalePlan{single: schema.Scale}
	default:
		return scalePlan{single: d.Scale}
	}
}

// resolveNames returns exactly n names, completing missing ones with their
// 1-based position. No configured names yields nil.
func resolveNames(names []string, n int) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		if i < len(names) && names[i] != "" {
			out[i] = names[i]
		} else {
			out[i] = strconv.Itoa(i + 1)
		}
	}
	return out
}
