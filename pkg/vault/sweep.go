package vault

import (
	"context"
	"fmt"
)

// SweepExpired removes entries whose expiry has passed, using the same
// per-entry delete path as token-based deletion so blob and metadata go
// together. A delete racing a client simply observes the entry already
// gone. Returns the number of entries removed.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	expired, err := e.registry.ListExpired(e.now())
	if err != nil {
		return 0, fmt.Errorf("%w: listing expired entries: %v", ErrInternal, err)
	}

	swept := 0
	for _, entry := range expired {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		deleted, err := e.deleteEntry(entry)
		if err != nil {
			// Leave the entry for the next pass.
			e.logger.Printf("Failed to sweep entry %s: %v", entry.Token, err)
			continue
		}
		if deleted {
			swept++
		}
	}

	if swept > 0 {
		e.logger.Printf("Swept %d expired entries", swept)
	}
	return swept, nil
}
