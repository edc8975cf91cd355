package betting

import (
	"fmt"
	"math/rand"
	"sort"

	"bolao/internal/ledger/domain"
)

// Ticket shape
const (
	NumbersPerBet = 10
	MinNumber     = 1
	MaxNumber     = 60
)

// DrawNumbers picks NumbersPerBet distinct numbers uniformly from
// [MinNumber, MaxNumber], sorted ascending.
func DrawNumbers() []int {
	perm := rand.Perm(MaxNumber - MinNumber + 1)[:NumbersPerBet]
	numbers := make([]int, NumbersPerBet)
	for i, n := range perm {
		numbers[i] = n + MinNumber
	}
	sort.Ints(numbers)
	return numbers
}

// NormalizeNumbers validates a user's pick and returns it sorted ascending
func NormalizeNumbers(in []int) ([]int, error) {
	if len(in) != NumbersPerBet {
		return nil, fmt.Errorf("%w: want %d numbers, got %d", domain.ErrInvalidNumbers, NumbersPerBet, len(in))
	}

	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, n := range in {
		if n < MinNumber || n > MaxNumber {
			return nil, fmt.Errorf("%w: %d is outside %d-%d", domain.ErrInvalidNumbers, n, MinNumber, MaxNumber)
		}
		if _, dup := seen[n]; dup {
			return nil, fmt.Errorf("%w: %d picked twice", domain.ErrInvalidNumbers, n)
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}
