package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToCredits(t *testing.T) {
	t.Run("zero cost yields zero credits", func(t *testing.T) {
		assert.Equal(t, int64(0), ToCredits(0))
	})

	t.Run("any nonzero cost yields at least one credit", func(t *testing.T) {
		assert.Equal(t, int64(1), ToCredits(1))
		assert.Equal(t, int64(1), ToCredits(99))
		assert.Equal(t, int64(1), ToCredits(100))
	})

	t.Run("uses ceiling division", func(t *testing.T) {
		assert.Equal(t, int64(2), ToCredits(101))
		assert.Equal(t, int64(3), ToCredits(250))
		assert.Equal(t, int64(30), ToCredits(3000))
	})

	t.Run("negative cost is treated as free", func(t *testing.T) {
		assert.Equal(t, int64(0), ToCredits(-50))
	})

	t.Run("monotonic non-decreasing", func(t *testing.T) {
		prev := int64(0)
		for cost := int64(0); cost <= 1_000; cost++ {
			c := ToCredits(cost)
			assert.GreaterOrEqual(t, c, prev, "ToCredits must never decrease (cost=%d)", cost)
			prev = c
		}
	})
}
