package betting

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bolao/internal/ledger/domain"
)

func TestNormalizeNumbers(t *testing.T) {
	tests := []struct {
		name    string
		in      []int
		want    []int
		wantErr bool
	}{
		{
			name: "sorts a valid pick",
			in:   []int{10, 9, 8, 7, 6, 5, 4, 3, 2, 1},
			want: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
		{
			name: "accepts the bounds",
			in:   []int{60, 1, 2, 3, 4, 5, 6, 7, 8, 59},
			want: []int{1, 2, 3, 4, 5, 6, 7, 8, 59, 60},
		},
		{name: "too few", in: []int{1, 2, 3}, wantErr: true},
		{name: "too many", in: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, wantErr: true},
		{name: "duplicate", in: []int{1, 1, 3, 4, 5, 6, 7, 8, 9, 10}, wantErr: true},
		{name: "zero", in: []int{0, 2, 3, 4, 5, 6, 7, 8, 9, 10}, wantErr: true},
		{name: "above range", in: []int{61, 2, 3, 4, 5, 6, 7, 8, 9, 10}, wantErr: true},
		{name: "empty", in: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeNumbers(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidNumbers)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeNumbersDoesNotMutateInput(t *testing.T) {
	in := []int{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	_, err := NormalizeNumbers(in)
	require.NoError(t, err)
	assert.Equal(t, 10, in[0])
}

func TestDrawNumbers(t *testing.T) {
	for i := 0; i < 500; i++ {
		numbers := DrawNumbers()
		require.Len(t, numbers, NumbersPerBet)
		assert.True(t, sort.IntsAreSorted(numbers))

		normalized, err := NormalizeNumbers(numbers)
		require.NoError(t, err)
		assert.Equal(t, numbers, normalized)
	}
}
