// Package syncengine implements sync-collection semantics: given a
// baseline token, emit changed instances and tombstones, and return the
// collection's current synctoken.
package syncengine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/calstack/davcore/internal/daverr"
	"github.com/calstack/davcore/internal/storage"
)

// Delta is the result of a sync-collection call: the changes since
// baseline, plus the new token to hand back to the client.
type Delta struct {
	Changed   []storage.Change
	NewToken  string
}

// ParseToken parses a sync-token: empty token means baseline 0 (initial
// sync); otherwise it must parse as a non-negative integer.
func ParseToken(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(token, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("syncengine: bad sync-token %q", token)
	}
	return n, nil
}

// Run executes the sync-collection algorithm for collectionID given the
// parsed baseline, returning the changes since that baseline and the
// collection's current synctoken.
func Run(ctx context.Context, store storage.Store, collectionID string, baseline int64, limit int) (*Delta, error) {
	changes, err := store.ListChangesSince(ctx, collectionID, baseline, limit)
	if err != nil {
		return nil, daverr.Storage(fmt.Errorf("syncengine: list changes: %w", err))
	}

	coll, err := store.GetCollectionByID(ctx, collectionID)
	if err != nil {
		return nil, daverr.Storage(fmt.Errorf("syncengine: load collection: %w", err))
	}

	return &Delta{
		Changed:  changes,
		NewToken: strconv.FormatInt(coll.SyncToken, 10),
	}, nil
}
