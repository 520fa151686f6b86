package vault

import (
	"errors"
	"fmt"

	"github.com/zots0127/filevault/pkg/registry"
	"github.com/zots0127/filevault/pkg/types"
)

// ListPaged returns one admin page plus the total matching the search term.
func (e *Engine) ListPaged(opts registry.ListOptions) ([]*types.VaultEntry, int64, error) {
	entries, err := e.registry.List(opts)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: listing entries: %v", ErrInternal, err)
	}
	total, err := e.registry.Count(opts.Search)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: counting entries: %v", ErrInternal, err)
	}
	return entries, total, nil
}

func (e *Engine) ListAll() ([]*types.VaultEntry, error) {
	entries, err := e.registry.ListAll()
	if err != nil {
		return nil, fmt.Errorf("%w: listing entries: %v", ErrInternal, err)
	}
	return entries, nil
}

func (e *Engine) BlockedIPs() ([]types.BlockedIP, error) {
	blocked, err := e.registry.BlockedIPs()
	if err != nil {
		return nil, fmt.Errorf("%w: listing blocked ips: %v", ErrInternal, err)
	}
	return blocked, nil
}

// BlockIP adds the address to the block list; re-blocking is a no-op. With
// purge set, the address's entries are removed through the normal delete
// path. The block record is committed before the purge starts, so purge
// failures never leave the address unblocked; they are logged and the purge
// of remaining entries continues.
func (e *Engine) BlockIP(ip string, purge bool) error {
	if ip == "" {
		return fmt.Errorf("%w: ip is required", ErrInvalidRequest)
	}

	if _, err := e.registry.Block(ip, e.now()); err != nil {
		return fmt.Errorf("%w: blocking ip: %v", ErrInternal, err)
	}

	if !purge {
		return nil
	}

	entries, err := e.registry.ListByIP(ip)
	if err != nil {
		e.logger.Printf("Failed to list entries for purge of %s: %v", ip, err)
		return nil
	}
	for _, entry := range entries {
		if _, err := e.deleteEntry(entry); err != nil {
			e.logger.Printf("Failed to purge entry %s for %s: %v", entry.Token, ip, err)
		}
	}
	return nil
}

// UnblockIPs removes the given addresses from the block list.
func (e *Engine) UnblockIPs(ips []string) error {
	if len(ips) == 0 {
		return fmt.Errorf("%w: no ips supplied", ErrInvalidRequest)
	}
	if _, err := e.registry.Unblock(ips); err != nil {
		return fmt.Errorf("%w: unblocking ips: %v", ErrInternal, err)
	}
	return nil
}

// DeleteEntries removes entries by registry id, returning how many were
// actually deleted. Missing ids are skipped; only a zero total is NotFound.
func (e *Engine) DeleteEntries(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no ids supplied", ErrInvalidRequest)
	}

	// Resolve ids to entries one by one so blobs are removed alongside the
	// records; missing ids are skipped rather than failing the batch.
	var count int64
	for _, id := range ids {
		entry, err := e.registry.GetByID(id)
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err != nil {
			return count, fmt.Errorf("%w: looking up entry %d: %v", ErrInternal, id, err)
		}
		deleted, err := e.deleteEntry(entry)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}

	if count == 0 {
		return 0, ErrNotFound
	}
	return count, nil
}
