package protocol

// ShardIndex computes the shard a partition-key encoding belongs to, given
// the total shard count. Both the router (for routing) and the coordinator
// (for grouping writes and releasing locks) must use this exact function so
// the two agree on ownership (spec §4.6); a future implementation may swap
// in a stronger hash provided both call sites change together.
func ShardIndex(partitionKeyEncoding string, shardCount int) int {
	var h uint32
	for i := 0; i < len(partitionKeyEncoding); i++ {
		h = (h << 5) - h + uint32(partitionKeyEncoding[i])
	}
	return int(h) % shardCount
}
