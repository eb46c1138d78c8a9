package utils

import "github.com/zeebo/xxh3"

// ShardIndex 計算分片索引
// ShardIndex maps key onto one of totalShards buckets.
func ShardIndex(totalShards int, key string) int {
	if totalShards <= 1 {
		return 0
	}
	return int(xxh3.HashString(key) % uint64(totalShards))
}
