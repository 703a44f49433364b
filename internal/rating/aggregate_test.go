package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundMean(t *testing.T) {
	cases := []struct {
		name   string
		values []int32
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []int32{4}, 4},
		{"exact", []int32{5, 4, 3}, 4},
		{"rounds down", []int32{5, 4, 4}, 4.3},
		{"rounds half up", []int32{5, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4}, 4.1},
		{"rounds up", []int32{5, 5, 4}, 4.7},
		{"low scores", []int32{1, 2}, 1.5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RoundMean(tc.values))
		})
	}
}
