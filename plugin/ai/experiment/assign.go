package experiment

import (
	"hash/fnv"
	"strconv"
)

// bucketCount is the number of hash buckets traffic is split over.
const bucketCount = 100

// Bucket maps (userID, experimentID) to a stable bucket in [0, 99].
//
// The key is "userID:experimentID" hashed with FNV-1a, so the result only
// depends on the pair and never on call order or process state.
func Bucket(userID string, experimentID int32) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.FormatInt(int64(experimentID), 10)))
	return h.Sum32() % bucketCount
}

// ShouldUseVariant reports whether the user is routed to the variant side.
// A split of 0 always returns false and a split of 100 always returns true.
func ShouldUseVariant(userID string, experimentID int32, trafficSplit int32) bool {
	if trafficSplit <= 0 {
		return false
	}
	if trafficSplit >= bucketCount {
		return true
	}
	return Bucket(userID, experimentID) < uint32(trafficSplit)
}
