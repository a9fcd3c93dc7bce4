package store

import "time"

// SetClock replaces the process clock a PostgresStore stamps rows with.
func SetClock(s *PostgresStore, now func() time.Time) { s.now = now }
