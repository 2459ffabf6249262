package domain

import "time"

// User is the public profile slice the coordinator reads and updates.
// Accounts themselves are owned by the account subsystem.
type User struct {
	ID          string
	Username    string
	Points      int
	GamesPlayed int
	GamesWon    int
	LastSeenAt  time.Time
}

// Profile is a user plus live connectivity, as returned by lookups.
type Profile struct {
	User
	Status string // online, away, in_game, offline
}
