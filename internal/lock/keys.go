package lock

// MarketKey returns the lock key that serializes every mutation touching a
// market: reserve updates, status transitions, and position changes priced
// against its curve. All components that mutate market-scoped state must
// acquire this key so their read-modify-write cycles are linearized.
func MarketKey(marketID string) string {
	return "market:" + marketID
}

// UserKey returns the lock key that serializes one user's balance mutations.
// It is deliberately disjoint from MarketKey so a user paid from several
// resolving markets at once still settles one entry at a time.
func UserKey(userID string) string {
	return "user:" + userID
}
