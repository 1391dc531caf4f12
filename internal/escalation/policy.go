// Package escalation decides which escalation level applies to an entity.
//
// A Policy is an ordered ladder of levels 1..N, each with a minimum offset in
// days. Resolve maps an offset to a level and never looks at message content;
// rendering is delegated to transports through each level's TemplateKey.
package escalation

import (
	"fmt"
	"sort"
	"strings"

	"escalator/internal/types"
)

// TemplateKey selects the message template for a level, independent of the
// channel it is sent on.
type TemplateKey string

// TemplateID is the transport-facing template identifier for key on channel,
// e.g. "dunning.final.sms".
func (k TemplateKey) TemplateID(ch types.ChannelType) string {
	return string(k) + "." + string(ch)
}

// Level is one step of an escalation ladder.
type Level struct {
	Level          int                 `json:"level"`
	MinOffsetDays  int                 `json:"min_offset_days"`
	Channels       []types.ChannelType `json:"channels"`
	Severity       types.Severity      `json:"severity"`
	NotifyOperator bool                `json:"notify_operator"`
	Template       TemplateKey         `json:"template"`
}

// Policy is a validated escalation ladder. It is immutable once built.
type Policy struct {
	kind   types.EntityKind
	levels []Level
}

// NewPolicy validates levels and builds a Policy. Levels must be numbered
// 1..N without gaps and their offsets must be strictly increasing. Any
// violation is a config_policy_invalid error.
func NewPolicy(kind types.EntityKind, levels []Level) (*Policy, error) {
	if len(levels) == 0 {
		return nil, policyError(kind, "policy has no levels", nil)
	}

	sorted := make([]Level, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })

	for i, lv := range sorted {
		if lv.Level != i+1 {
			return nil, policyError(kind, fmt.Sprintf("levels must be numbered 1..%d without gaps, found level %d at position %d", len(sorted), lv.Level, i+1), nil)
		}
		if len(lv.Channels) == 0 {
			return nil, policyError(kind, fmt.Sprintf("level %d has no channels", lv.Level), nil)
		}
		for _, ch := range lv.Channels {
			if !ch.Valid() {
				return nil, policyError(kind, fmt.Sprintf("level %d has unknown channel %q", lv.Level, ch), nil)
			}
		}
		if lv.Template == "" {
			return nil, policyError(kind, fmt.Sprintf("level %d has no template", lv.Level), nil)
		}
		if i > 0 && lv.MinOffsetDays <= sorted[i-1].MinOffsetDays {
			return nil, policyError(kind, fmt.Sprintf("level %d offset %d does not exceed level %d offset %d",
				lv.Level, lv.MinOffsetDays, sorted[i-1].Level, sorted[i-1].MinOffsetDays),
				map[string]any{"level": lv.Level, "offset": lv.MinOffsetDays})
		}
		channels := make([]types.ChannelType, len(lv.Channels))
		copy(channels, lv.Channels)
		sorted[i].Channels = channels
	}

	return &Policy{kind: kind, levels: sorted}, nil
}

func policyError(kind types.EntityKind, msg string, details map[string]any) *types.AppError {
	if details == nil {
		details = map[string]any{}
	}
	details["entity_kind"] = string(kind)
	return types.NewAppErrorWithDetails(types.ErrCodeConfigPolicyInvalid, msg, nil, details)
}

// Kind returns the entity kind this policy applies to.
func (p *Policy) Kind() types.EntityKind { return p.kind }

// Max returns the highest level.
func (p *Policy) Max() int { return len(p.levels) }

// MinOffset returns the offset of level 1, the earliest point any level applies.
func (p *Policy) MinOffset() int { return p.levels[0].MinOffsetDays }

// Level returns level n.
func (p *Policy) Level(n int) (Level, bool) {
	if n < 1 || n > len(p.levels) {
		return Level{}, false
	}
	return p.levels[n-1], true
}

// Levels returns a copy of the ladder in ascending order.
func (p *Policy) Levels() []Level {
	out := make([]Level, len(p.levels))
	copy(out, p.levels)
	return out
}

// Offsets returns the level -> minimum offset table.
func (p *Policy) Offsets() map[int]int {
	out := make(map[int]int, len(p.levels))
	for _, lv := range p.levels {
		out[lv.Level] = lv.MinOffsetDays
	}
	return out
}

// Resolve returns the highest level whose offset is <= offsetDays, or 0 when
// offsetDays is below level 1. The lower bound is inclusive.
func (p *Policy) Resolve(offsetDays int) int {
	// Offsets are strictly increasing, so the first level above offsetDays
	// is one past the answer.
	return sort.Search(len(p.levels), func(i int) bool {
		return p.levels[i].MinOffsetDays > offsetDays
	})
}

// WithOverrides returns a copy of the policy with the offsets of the given
// levels replaced. Ordering, channels and templates are kept. An override
// naming an unknown level, or one that makes offsets collide or cross, fails
// with config_policy_invalid.
func (p *Policy) WithOverrides(offsets map[int]int) (*Policy, error) {
	if len(offsets) == 0 {
		return p, nil
	}
	levels := p.Levels()
	for n, off := range offsets {
		if n < 1 || n > len(levels) {
			return nil, policyError(p.kind, fmt.Sprintf("override names unknown level %d", n),
				map[string]any{"level": n})
		}
		levels[n-1].MinOffsetDays = off
	}
	return NewPolicy(p.kind, levels)
}

// String renders the ladder compactly, e.g. "invoice[1:-7 2:7 3:14]".
func (p *Policy) String() string {
	var b strings.Builder
	b.WriteString(string(p.kind))
	b.WriteByte('[')
	for i, lv := range p.levels {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d:%d", lv.Level, lv.MinOffsetDays)
	}
	b.WriteByte(']')
	return b.String()
}
