package bucket

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssign_Deterministic(t *testing.T) {
	first := Assign("checkout_v2", "12345")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Assign("checkout_v2", "12345"))
	}
}

func TestAssign_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		b := Assign("beta_widget", fmt.Sprintf("subject-%d", i))
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 100)
	}
}

func TestAssign_FlagKeyIndependence(t *testing.T) {
	// The same subject should not land in the same bucket for every flag;
	// with 50 flags the odds of that under a uniform hash are negligible.
	same := true
	reference := Assign("flag_0", "subject-1")
	for i := 1; i < 50; i++ {
		if Assign(fmt.Sprintf("flag_%d", i), "subject-1") != reference {
			same = false
			break
		}
	}
	assert.False(t, same, "bucket should depend on the flag key")
}

func TestAssign_DistributionSequentialIDs(t *testing.T) {
	// Sequential integer ids at a 50 percent threshold should land roughly
	// half below 50. Tolerance is generous since hashing is pseudo-random.
	included := 0
	total := 1000
	for i := 0; i < total; i++ {
		if Assign("rollout_50", fmt.Sprintf("%d", i)) < 50 {
			included++
		}
	}
	assert.Greater(t, included, total*35/100, "too few subjects included")
	assert.Less(t, included, total*65/100, "too many subjects included")
}

func TestAssign_DistributionAcrossBuckets(t *testing.T) {
	// Every bucket should be hit at least once with enough subjects.
	seen := make(map[int]bool)
	for i := 0; i < 10000; i++ {
		seen[Assign("spread_check", fmt.Sprintf("s%d", i))] = true
	}
	assert.Len(t, seen, 100)
}
