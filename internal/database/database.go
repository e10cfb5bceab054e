package database

import (
	"context"
	"strings"
	"time"
)

// Open connects to the store named by dsn. MongoDB URIs select the document
// store; anything else is handed to the Postgres driver.
func Open(ctx context.Context, dsn, dbName string) (Repository, error) {
	if isMongoURI(dsn) {
		repo, err := NewMongoRepository(ctx, dsn, dbName)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}

	repo, err := NewPgRepository(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func isMongoURI(dsn string) bool {
	return strings.HasPrefix(dsn, "mongodb://") || strings.HasPrefix(dsn, "mongodb+srv://")
}

// Now returns the current time at the precision every store can round-trip.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
