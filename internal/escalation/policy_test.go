package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escalator/internal/types"
)

func ladder(offsets ...int) []Level {
	levels := make([]Level, len(offsets))
	for i, off := range offsets {
		levels[i] = Level{
			Level:         i + 1,
			MinOffsetDays: off,
			Channels:      []types.ChannelType{types.ChannelEmail},
			Severity:      types.SeverityInfo,
			Template:      TemplateKey("test.level"),
		}
	}
	return levels
}

func mustPolicy(t *testing.T, offsets ...int) *Policy {
	t.Helper()
	p, err := NewPolicy(types.EntityInvoice, ladder(offsets...))
	require.NoError(t, err)
	return p
}

func TestResolve_ScenarioA(t *testing.T) {
	p := mustPolicy(t, -7, 0, 7)

	due := time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 11, 16, 45, 0, 0, time.UTC)

	offset := OffsetDays(due, now, time.UTC)
	assert.Equal(t, 0, offset)
	assert.Equal(t, 2, p.Resolve(offset))
}

func TestResolve_Boundaries(t *testing.T) {
	p := mustPolicy(t, -7, 0, 7)

	tests := []struct {
		offset int
		want   int
	}{
		{-30, 0},
		{-8, 0},
		{-7, 1},
		{-1, 1},
		{0, 2},
		{6, 2},
		{7, 3},
		{400, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Resolve(tt.offset), "offset %d", tt.offset)
		assert.Equal(t, tt.want, p.Resolve(tt.offset), "resolve is deterministic")
	}
}

func TestNewPolicy_Validation(t *testing.T) {
	tests := []struct {
		name   string
		levels []Level
	}{
		{"empty", nil},
		{"collision", ladder(0, 7, 7)},
		{"decreasing", ladder(7, 0)},
		{"gap", []Level{ladder(1)[0], {Level: 3, MinOffsetDays: 9, Channels: []types.ChannelType{types.ChannelSMS}, Template: "x"}}},
		{"no channels", []Level{{Level: 1, Template: "x"}}},
		{"unknown channel", []Level{{Level: 1, Channels: []types.ChannelType{"pigeon"}, Template: "x"}}},
		{"no template", []Level{{Level: 1, Channels: []types.ChannelType{types.ChannelEmail}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(types.EntityInvoice, tt.levels)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrCodeConfigPolicyInvalid))
		})
	}
}

func TestNewPolicy_SortsByLevel(t *testing.T) {
	levels := ladder(-7, 0, 7)
	levels[0], levels[2] = levels[2], levels[0]

	p, err := NewPolicy(types.EntityInvoice, levels)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Max())
	assert.Equal(t, -7, p.MinOffset())
	assert.Equal(t, "invoice[1:-7 2:0 3:7]", p.String())
}

func TestWithOverrides(t *testing.T) {
	p := mustPolicy(t, -7, 0, 7)

	over, err := p.WithOverrides(map[int]int{3: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, over.Resolve(9))
	assert.Equal(t, 3, over.Resolve(10))
	assert.Equal(t, 3, p.Resolve(9), "base policy is unchanged")

	lv, ok := over.Level(3)
	require.True(t, ok)
	assert.Equal(t, []types.ChannelType{types.ChannelEmail}, lv.Channels, "channels survive overrides")

	_, err = p.WithOverrides(map[int]int{2: 7})
	assert.True(t, types.IsCode(err, types.ErrCodeConfigPolicyInvalid), "collision fails closed")

	_, err = p.WithOverrides(map[int]int{5: 30})
	assert.True(t, types.IsCode(err, types.ErrCodeConfigPolicyInvalid), "unknown level")

	same, err := p.WithOverrides(nil)
	require.NoError(t, err)
	assert.Same(t, p, same)
}

func TestOffsetDays(t *testing.T) {
	due := time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, OffsetDays(due, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), time.UTC))
	assert.Equal(t, 0, OffsetDays(due, time.Date(2026, 2, 11, 23, 59, 59, 0, time.UTC), time.UTC))
	assert.Equal(t, 1, OffsetDays(due, time.Date(2026, 2, 12, 0, 0, 1, 0, time.UTC), time.UTC))
	assert.Equal(t, -7, OffsetDays(due, time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC), time.UTC))
	assert.Equal(t, 28, OffsetDays(due, time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC), time.UTC))

	// 2026-02-11 23:30 UTC is already 2026-02-12 in Tokyo.
	tokyo := time.FixedZone("JST", 9*3600)
	assert.Equal(t, 1, OffsetDays(due, time.Date(2026, 2, 11, 23, 30, 0, 0, time.UTC), tokyo))

	// Across a DST change the result is still a whole number of days.
	ny := time.FixedZone("EDT", -4*3600)
	assert.Equal(t, 30, OffsetDays(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 31, 12, 0, 0, 0, ny), ny))
}

func TestNextLevel_NeverSkipsOrRegresses(t *testing.T) {
	assert.Equal(t, 1, NextLevel(0, 3), "one step per pass")
	assert.Equal(t, 3, NextLevel(2, 3))
	assert.Equal(t, 3, NextLevel(3, 3))
	assert.Equal(t, 3, NextLevel(3, 1), "never backwards")
}

func TestDecide(t *testing.T) {
	p := mustPolicy(t, -7, 0, 7)

	target, ok := p.Decide(2, 9)
	assert.True(t, ok)
	assert.Equal(t, 3, target)

	_, ok = p.Decide(3, 40)
	assert.False(t, ok, "already at the top of the ladder")

	_, ok = p.Decide(0, -10)
	assert.False(t, ok, "below level 1")
}

func TestDefaultPolicies(t *testing.T) {
	inv, err := NewInvoicePolicy(7)
	require.NoError(t, err)
	assert.Equal(t, 4, inv.Max())
	assert.Equal(t, -7, inv.MinOffset())
	assert.Equal(t, map[int]int{1: -7, 2: 7, 3: 14, 4: 21}, inv.Offsets())

	final, _ := inv.Level(4)
	assert.True(t, final.NotifyOperator)
	assert.Equal(t, "dunning.final.whatsapp", final.Template.TemplateID(types.ChannelWhatsApp))

	appt, err := NewAppointmentPolicy()
	require.NoError(t, err)
	assert.Equal(t, 1, appt.Max())
	assert.Equal(t, types.EntityAppointment, appt.Kind())
}
