package types

import (
	"errors"
	"time"
)

// SourceKind describes where an entry's content comes from.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceURL  SourceKind = "url"
)

// Protection describes how access to an entry is restricted.
type Protection string

const (
	// ProtectionNone means the entry is retrievable by anyone holding the token.
	ProtectionNone Protection = "none"
	// ProtectionPassword means a password is required but bytes are stored in plaintext.
	ProtectionPassword Protection = "password"
	// ProtectionEncrypted means a password is required and bytes are encrypted at rest.
	ProtectionEncrypted Protection = "encrypted"
)

// ScanStatus is the antivirus verdict recorded for an entry.
type ScanStatus string

const (
	ScanPending ScanStatus = "pending"
	ScanPassed  ScanStatus = "passed"
	ScanFailed  ScanStatus = "failed"
)

// VaultEntry represents a stored resource in the vault
type VaultEntry struct {
	ID           int64      `json:"id" db:"id"`
	Token        string     `json:"token" db:"token"`
	StorageKey   string     `json:"-" db:"storage_key"`
	SourceKind   SourceKind `json:"source_kind" db:"source_kind"`
	FileName     string     `json:"file_name,omitempty" db:"file_name"`
	RemoteURL    string     `json:"remote_url,omitempty" db:"remote_url"`
	Size         int64      `json:"size" db:"size"`
	Protection   Protection `json:"protection" db:"protection"`
	PasswordHash string     `json:"-" db:"password_hash"`
	UploaderIP   string     `json:"uploader_ip" db:"uploader_ip"`
	ScanStatus   ScanStatus `json:"scan_status" db:"scan_status"`
	ScanReason   string     `json:"scan_reason,omitempty" db:"scan_reason"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// BlockedIP represents a single banned uploader address
type BlockedIP struct {
	IP        string    `json:"ip" db:"ip"`
	BlockedAt time.Time `json:"blocked_at" db:"blocked_at"`
}

var (
	ErrBadSource     = errors.New("types: entry must have exactly one of file or url source")
	ErrBadProtection = errors.New("types: password hash must be present iff entry is protected")
	ErrBadExpiry     = errors.New("types: expiry must be after creation time")
)

// Validate enforces the structural invariants of an entry before it is
// persisted: one source kind, hash present iff protected, encryption only
// for file sources, expiry strictly after creation.
func (e *VaultEntry) Validate() error {
	switch e.SourceKind {
	case SourceFile:
		if e.StorageKey == "" || e.RemoteURL != "" {
			return ErrBadSource
		}
	case SourceURL:
		if e.RemoteURL == "" || e.StorageKey != "" {
			return ErrBadSource
		}
		if e.Protection == ProtectionEncrypted {
			return ErrBadProtection
		}
	default:
		return ErrBadSource
	}

	protected := e.Protection == ProtectionPassword || e.Protection == ProtectionEncrypted
	if protected != (e.PasswordHash != "") {
		return ErrBadProtection
	}
	if !protected && e.Protection != ProtectionNone {
		return ErrBadProtection
	}

	if e.ExpiresAt != nil && !e.ExpiresAt.After(e.CreatedAt) {
		return ErrBadExpiry
	}
	return nil
}

// Expired reports whether the entry's lifetime has passed at the given time.
// Entries with a nil expiry never expire.
func (e *VaultEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// TimeRemaining returns the lifetime left at the given time, clamped to zero.
func (e *VaultEntry) TimeRemaining(now time.Time) time.Duration {
	if e.ExpiresAt == nil {
		return 0
	}
	remaining := e.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// EntryInfo is the metadata view returned to clients; it never carries bytes.
type EntryInfo struct {
	Token         string     `json:"token"`
	SourceKind    SourceKind `json:"source_kind"`
	FileName      string     `json:"file_name,omitempty"`
	RemoteURL     string     `json:"remote_url,omitempty"`
	Size          int64      `json:"size"`
	Protection    Protection `json:"protection"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	TimeRemaining int64      `json:"time_remaining_ms"`
}
