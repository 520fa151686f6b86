// Package vault orchestrates the blob store, entry registry, crypto service
// and antivirus gate into the public upload/fetch/delete and admin
// operations.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/zots0127/filevault/pkg/crypto"
	"github.com/zots0127/filevault/pkg/registry"
	"github.com/zots0127/filevault/pkg/scanner"
	"github.com/zots0127/filevault/pkg/storage"
	"github.com/zots0127/filevault/pkg/types"
)

// tokenAttempts bounds collision retries during token generation.
const tokenAttempts = 5

// Options tune the engine. Zero values get sensible defaults from New.
type Options struct {
	MaxFileSize  int64
	MinRetention time.Duration
	MaxRetention time.Duration
	ScanTimeout  time.Duration
}

// Engine implements the vault operations over its injected collaborators.
type Engine struct {
	store    storage.Store
	registry *registry.Registry
	crypto   *crypto.Service
	scanner  scanner.Scanner
	opts     Options
	logger   *log.Logger

	// Injectable for tests.
	now      func() time.Time
	newToken func() string
}

func New(store storage.Store, reg *registry.Registry, crypt *crypto.Service, scan scanner.Scanner, opts Options) *Engine {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 512 << 20
	}
	if opts.MinRetention <= 0 {
		opts.MinRetention = 24 * time.Hour
	}
	if opts.MaxRetention < opts.MinRetention {
		opts.MaxRetention = 30 * 24 * time.Hour
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = time.Minute
	}

	return &Engine{
		store:    store,
		registry: reg,
		crypto:   crypt,
		scanner:  scan,
		opts:     opts,
		logger:   log.New(os.Stdout, "[Vault] ", log.LstdFlags),
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// UploadRequest carries one upload: file bytes XOR a remote URL, the
// caller's normalized address, and optional protection settings.
type UploadRequest struct {
	Data     []byte
	FileName string
	URL      string
	IP       string
	Password string
	Encrypt  bool
}

// UploadResult is returned to the uploader; the token is the only handle to
// the entry from here on.
type UploadResult struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Upload runs the full intake pipeline: block-list check, blob persist,
// antivirus gate, optional protection, token issue, registry record.
// Any failure after the blob write removes the blob before surfacing.
func (e *Engine) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	hasFile := req.Data != nil
	hasURL := req.URL != ""
	if hasFile == hasURL {
		return nil, fmt.Errorf("%w: supply exactly one of file or url", ErrInvalidRequest)
	}
	if hasFile && int64(len(req.Data)) > e.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidRequest, e.opts.MaxFileSize)
	}
	if req.Encrypt && req.Password == "" {
		return nil, fmt.Errorf("%w: encryption requires a password", ErrInvalidRequest)
	}
	if req.Encrypt && hasURL {
		return nil, fmt.Errorf("%w: url entries cannot be encrypted", ErrInvalidRequest)
	}
	if req.Encrypt && !e.crypto.EncryptionEnabled() {
		return nil, fmt.Errorf("%w: encryption is not available", ErrInvalidRequest)
	}
	if hasURL {
		parsed, err := url.Parse(req.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return nil, fmt.Errorf("%w: invalid url", ErrInvalidRequest)
		}
	}

	blocked, err := e.registry.IsBlocked(req.IP)
	if err != nil {
		return nil, fmt.Errorf("%w: checking block list: %v", ErrInternal, err)
	}
	if blocked {
		return nil, ErrForbidden
	}

	entry := &types.VaultEntry{
		UploaderIP: req.IP,
		CreatedAt:  e.now(),
		Protection: types.ProtectionNone,
		ScanStatus: types.ScanPending,
	}

	if hasURL {
		entry.SourceKind = types.SourceURL
		entry.RemoteURL = req.URL
		entry.ScanStatus = types.ScanPassed
	} else {
		entry.SourceKind = types.SourceFile
		entry.FileName = req.FileName
		entry.Size = int64(len(req.Data))
		entry.StorageKey = uuid.NewString()

		if err := e.store.Put(entry.StorageKey, req.Data); err != nil {
			return nil, fmt.Errorf("%w: persisting blob: %v", ErrInternal, err)
		}

		if err := e.runScan(ctx, entry, req.Data); err != nil {
			e.cleanupBlob(entry.StorageKey)
			return nil, err
		}
	}

	if req.Password != "" {
		hash, err := e.crypto.HashPassword(req.Password)
		if err != nil {
			e.cleanupBlob(entry.StorageKey)
			return nil, fmt.Errorf("%w: hashing password: %v", ErrInternal, err)
		}
		entry.PasswordHash = hash
		entry.Protection = types.ProtectionPassword

		if req.Encrypt {
			encrypted, err := e.crypto.Encrypt(req.Data, req.Password)
			if err != nil {
				e.cleanupBlob(entry.StorageKey)
				return nil, fmt.Errorf("%w: encrypting blob: %v", ErrInternal, err)
			}
			if err := e.store.Put(entry.StorageKey, encrypted); err != nil {
				e.cleanupBlob(entry.StorageKey)
				return nil, fmt.Errorf("%w: persisting encrypted blob: %v", ErrInternal, err)
			}
			entry.Protection = types.ProtectionEncrypted
		}
	}

	expiresAt := entry.CreatedAt.Add(e.retention(entry))
	entry.ExpiresAt = &expiresAt

	if err := e.createWithFreshToken(entry); err != nil {
		e.cleanupBlob(entry.StorageKey)
		return nil, err
	}

	return &UploadResult{Token: entry.Token, ExpiresAt: entry.ExpiresAt}, nil
}

// runScan applies the antivirus gate to freshly persisted bytes. A disabled
// gate is skipped via the capability query. Gate unavailability (spawn
// failure or timeout) rejects the upload rather than silently passing it.
func (e *Engine) runScan(ctx context.Context, entry *types.VaultEntry, data []byte) error {
	if !e.scanner.Enabled() {
		entry.ScanStatus = types.ScanPassed
		return nil
	}

	scanCtx, cancel := context.WithTimeout(ctx, e.opts.ScanTimeout)
	defer cancel()

	result, err := e.scanner.Scan(scanCtx, entry.FileName, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScanUnavailable, err)
	}
	if !result.Passed {
		entry.ScanStatus = types.ScanFailed
		entry.ScanReason = result.Reason
		return &ScanRejectedError{Reason: result.Reason}
	}

	entry.ScanStatus = types.ScanPassed
	return nil
}

// createWithFreshToken issues a token and persists the entry, retrying a
// bounded number of times if the registry reports a collision.
func (e *Engine) createWithFreshToken(entry *types.VaultEntry) error {
	for i := 0; i < tokenAttempts; i++ {
		entry.Token = e.newToken()
		err := e.registry.Create(entry)
		if err == nil {
			return nil
		}
		if !errors.Is(err, registry.ErrDuplicateToken) {
			return fmt.Errorf("%w: creating entry: %v", ErrInternal, err)
		}
	}
	return fmt.Errorf("%w: token space exhausted after %d attempts", ErrInternal, tokenAttempts)
}

// retention computes an entry's lifetime: the maximum for URL entries and
// empty files, sliding linearly down to the minimum at the size cap.
func (e *Engine) retention(entry *types.VaultEntry) time.Duration {
	if entry.SourceKind == types.SourceURL || entry.Size <= 0 {
		return e.opts.MaxRetention
	}
	window := e.opts.MaxRetention - e.opts.MinRetention
	scaled := time.Duration(float64(window) * float64(entry.Size) / float64(e.opts.MaxFileSize))
	return e.opts.MaxRetention - scaled
}

// GetInfo returns entry metadata, never bytes. Expired entries are reported
// as absent even before the sweep removes them.
func (e *Engine) GetInfo(token string) (*types.EntryInfo, error) {
	entry, err := e.lookup(token)
	if err != nil {
		return nil, err
	}

	return &types.EntryInfo{
		Token:         entry.Token,
		SourceKind:    entry.SourceKind,
		FileName:      entry.FileName,
		RemoteURL:     entry.RemoteURL,
		Size:          entry.Size,
		Protection:    entry.Protection,
		CreatedAt:     entry.CreatedAt,
		ExpiresAt:     entry.ExpiresAt,
		TimeRemaining: entry.TimeRemaining(e.now()).Milliseconds(),
	}, nil
}

// FetchResult carries either blob bytes or, for url entries, the remote
// target the boundary layer should redirect to.
type FetchResult struct {
	Bytes     []byte
	FileName  string
	RemoteURL string
}

// Fetch returns an entry's content after password verification. Password
// verification is the exclusive gate: encrypted entries decrypt only after
// the hash matches, and password-only entries return stored bytes unchanged.
func (e *Engine) Fetch(token, password string) (*FetchResult, error) {
	entry, err := e.lookup(token)
	if err != nil {
		return nil, err
	}

	if entry.Protection != types.ProtectionNone {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		ok, err := e.crypto.VerifyPassword(entry.PasswordHash, password)
		if err != nil {
			return nil, fmt.Errorf("%w: verifying password: %v", ErrInternal, err)
		}
		if !ok {
			return nil, ErrIncorrectPassword
		}
	}

	if entry.SourceKind == types.SourceURL {
		return &FetchResult{RemoteURL: entry.RemoteURL}, nil
	}

	data, err := e.store.Get(entry.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob: %v", ErrInternal, err)
	}

	if entry.Protection == types.ProtectionEncrypted {
		data, err = e.crypto.Decrypt(data, password)
		if err != nil {
			return nil, fmt.Errorf("%w: decrypting blob: %v", ErrInternal, err)
		}
	}

	return &FetchResult{Bytes: data, FileName: entry.FileName}, nil
}

// Delete removes an entry by token. Unknown tokens return false, not an
// error; token possession is the sole authorization.
func (e *Engine) Delete(token string) (bool, error) {
	entry, err := e.registry.GetByToken(token)
	if errors.Is(err, registry.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: looking up entry: %v", ErrInternal, err)
	}
	return e.deleteEntry(entry)
}

// deleteEntry removes blob then metadata. A blob delete failure leaves the
// record intact so the operation can be retried; the registry row going
// first would strand bytes with no owner.
func (e *Engine) deleteEntry(entry *types.VaultEntry) (bool, error) {
	if entry.SourceKind == types.SourceFile {
		if err := e.store.Delete(entry.StorageKey); err != nil {
			return false, fmt.Errorf("%w: deleting blob: %v", ErrInternal, err)
		}
	}
	deleted, err := e.registry.DeleteByToken(entry.Token)
	if err != nil {
		return false, fmt.Errorf("%w: deleting entry: %v", ErrInternal, err)
	}
	return deleted, nil
}

// lookup resolves a token, treating expired entries as absent.
func (e *Engine) lookup(token string) (*types.VaultEntry, error) {
	entry, err := e.registry.GetByToken(token)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: looking up entry: %v", ErrInternal, err)
	}
	if entry.Expired(e.now()) {
		return nil, ErrNotFound
	}
	return entry, nil
}

// cleanupBlob is best-effort removal after a failed upload step; the error
// is logged because the caller is already surfacing the original failure.
func (e *Engine) cleanupBlob(storageKey string) {
	if storageKey == "" {
		return
	}
	if err := e.store.Delete(storageKey); err != nil {
		e.logger.Printf("Failed to clean up blob %s: %v", storageKey, err)
	}
}
