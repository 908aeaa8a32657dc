package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEligible(t *testing.T) {
	t.Parallel()

	trig := func(id string) Trigger {
		return Trigger{ID: id, Property: id, Operator: Exists}
	}

	tests := []struct {
		name     string
		triggers [][]Trigger
		truthy   map[string]bool
		want     bool
	}{
		{
			name:     "Should be eligible when there are no groups",
			triggers: nil,
			want:     true,
		},
		{
			name:     "Should be eligible when the only AND group holds",
			triggers: [][]Trigger{{trig("a"), trig("b")}},
			truthy:   map[string]bool{"a": true, "b": true},
			want:     true,
		},
		{
			name:     "Should not be eligible when one trigger of the AND group fails",
			triggers: [][]Trigger{{trig("a"), trig("b")}},
			truthy:   map[string]bool{"a": true},
			want:     false,
		},
		{
			name:     "Should be eligible when a later OR group holds",
			triggers: [][]Trigger{{trig("a")}, {trig("b"), trig("c")}},
			truthy:   map[string]bool{"b": true, "c": true},
			want:     true,
		},
		{
			name:     "Should not be eligible when no OR group holds",
			triggers: [][]Trigger{{trig("a")}, {trig("b"), trig("c")}},
			truthy:   map[string]bool{"c": true},
			want:     false,
		},
		{
			name:     "Should treat an empty AND group as unsatisfied",
			triggers: [][]Trigger{{}},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := &Message{ID: "m", Triggers: tt.triggers}

			got := IsEligible(msg, func(t Trigger) bool { return tt.truthy[t.ID] })

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsEligible_ShortCircuits(t *testing.T) {
	t.Parallel()

	msg := &Message{
		ID: "m",
		Triggers: [][]Trigger{
			{{ID: "fail-first"}, {ID: "never-1"}},
			{{ID: "pass"}},
			{{ID: "never-2"}},
		},
	}

	var visited []string
	got := IsEligible(msg, func(t Trigger) bool {
		visited = append(visited, t.ID)
		return t.ID == "pass"
	})

	assert.True(t, got)
	assert.Equal(t, []string{"fail-first", "pass"}, visited)
}
