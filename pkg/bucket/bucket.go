package bucket

import (
	"crypto/md5"
	"encoding/binary"
)

// Assign maps a (flagKey, subjectID) pair to a stable bucket in [0, 100).
// The same pair always lands in the same bucket, across processes and over
// time, so a subject's rollout experience never flips on re-evaluation.
// Different flag keys bucket the same subject independently.
func Assign(flagKey, subjectID string) int {
	h := md5.Sum([]byte(flagKey + ":" + subjectID))
	// The first 8 bytes carry plenty of entropy for a mod-100 reduction.
	v := binary.BigEndian.Uint64(h[:8])
	return int(v % 100)
}
