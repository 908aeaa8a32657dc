package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/beacon/internal/trigger"
)

func TestEncodeValues(t *testing.T) {
	t.Parallel()

	fields, err := encodeValues(map[string]trigger.Value{
		"level":   trigger.Number(3.5),
		"plan":    trigger.String("pro"),
		"premium": trigger.Bool(true),
		"tags":    trigger.Strings([]string{"a", "b"}...),
		"cleared": trigger.Null(),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"level":   "3.5",
		"plan":    `"pro"`,
		"premium": "true",
		"tags":    `["a","b"]`,
		"cleared": "null",
	}, fields)
}

func TestDecodeValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     map[string]string
		want    map[string]trigger.Value
		wantErr bool
	}{
		{
			name: "decodes every kind",
			raw: map[string]string{
				"level":   "3.5",
				"plan":    `"pro"`,
				"premium": "false",
				"tags":    `["a"]`,
			},
			want: map[string]trigger.Value{
				"level":   trigger.Number(3.5),
				"plan":    trigger.String("pro"),
				"premium": trigger.Bool(false),
				"tags":    trigger.Strings([]string{"a"}...),
			},
		},
		{
			name:    "keeps valid fields next to corrupt ones",
			raw:     map[string]string{"level": "2", "broken": "{not json", "nested": `{"a":1}`},
			want:    map[string]trigger.Value{"level": trigger.Number(2)},
			wantErr: true,
		},
		{
			name: "empty hash",
			raw:  map[string]string{},
			want: map[string]trigger.Value{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := decodeValues(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			require.Len(t, got, len(tt.want))
			for k, v := range tt.want {
				assert.True(t, v.Equal(got[k]), "field %q: got %v want %v", k, got[k], v)
			}
		})
	}
}

func TestNewRedisValueStore_PanicsOnNilClient(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewRedisValueStore(nil, "k") })
}
