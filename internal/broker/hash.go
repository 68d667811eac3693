// Package broker implements the client-facing router: it shards client
// requests across the replicator pool, serializes each shard's
// upstream, and maintains the cross-shard leaderboard.
package broker

// UserHash sums the rune values of the username modulo 41. The mod 41
// step is load-bearing: shard assignment decides which replicator holds
// a user's durable state, so changing it would strand every existing
// account. Do not "fix" it.
func UserHash(username string) int {
	sum := 0
	for _, r := range username {
		sum += int(r)
	}
	return sum % 41
}

// ShardFor maps a username onto one of n shards.
func ShardFor(username string, n int) int {
	return UserHash(username) % n
}
