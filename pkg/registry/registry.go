// Package registry is the durable record store for vault entries and the
// uploader IP block list. It is the single writer of entry metadata; token
// uniqueness is enforced here at write time, not by random-space assumption.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zots0127/filevault/pkg/types"
)

var (
	// ErrNotFound indicates no entry exists for the given token.
	ErrNotFound = errors.New("registry: entry not found")

	// ErrDuplicateToken indicates a create collided with a live token.
	ErrDuplicateToken = errors.New("registry: token already exists")
)

type Registry struct {
	db *sql.DB
}

func Open(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	r := &Registry{db: db}
	if err := r.initTables(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL UNIQUE,
		storage_key TEXT NOT NULL DEFAULT '',
		source_kind TEXT NOT NULL,
		file_name TEXT NOT NULL DEFAULT '',
		remote_url TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		protection TEXT NOT NULL DEFAULT 'none',
		password_hash TEXT NOT NULL DEFAULT '',
		uploader_ip TEXT NOT NULL DEFAULT '',
		scan_status TEXT NOT NULL DEFAULT 'pending',
		scan_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_entries_uploader_ip ON entries(uploader_ip);
	CREATE INDEX IF NOT EXISTS idx_entries_expires_at ON entries(expires_at);
	CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries(created_at);

	CREATE TABLE IF NOT EXISTS blocked_ips (
		ip TEXT PRIMARY KEY,
		blocked_at DATETIME NOT NULL
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Create persists a new entry. The unique token column makes concurrent
// creates with the same token lose deterministically: the second writer
// gets ErrDuplicateToken.
func (r *Registry) Create(e *types.VaultEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	result, err := r.db.Exec(
		`INSERT OR IGNORE INTO entries
		 (token, storage_key, source_kind, file_name, remote_url, size,
		  protection, password_hash, uploader_ip, scan_status, scan_reason,
		  created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Token, e.StorageKey, string(e.SourceKind), e.FileName, e.RemoteURL,
		e.Size, string(e.Protection), e.PasswordHash, e.UploaderIP,
		string(e.ScanStatus), e.ScanReason, e.CreatedAt, e.ExpiresAt,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrDuplicateToken
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

const entryColumns = `id, token, storage_key, source_kind, file_name, remote_url,
	size, protection, password_hash, uploader_ip, scan_status, scan_reason,
	created_at, expires_at`

func scanEntry(row interface{ Scan(...interface{}) error }) (*types.VaultEntry, error) {
	var e types.VaultEntry
	var sourceKind, protection, scanStatus string
	err := row.Scan(
		&e.ID, &e.Token, &e.StorageKey, &sourceKind, &e.FileName, &e.RemoteURL,
		&e.Size, &protection, &e.PasswordHash, &e.UploaderIP, &scanStatus,
		&e.ScanReason, &e.CreatedAt, &e.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	e.SourceKind = types.SourceKind(sourceKind)
	e.Protection = types.Protection(protection)
	e.ScanStatus = types.ScanStatus(scanStatus)
	return &e, nil
}

func (r *Registry) GetByToken(token string) (*types.VaultEntry, error) {
	row := r.db.QueryRow(
		"SELECT "+entryColumns+" FROM entries WHERE token = ?", token)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

func (r *Registry) GetByID(id int64) (*types.VaultEntry, error) {
	row := r.db.QueryRow(
		"SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// DeleteByToken removes the entry and reports whether a row was removed.
// Returning false means the entry was already gone, which lets a delete
// racing the expiry sweep observe the loss instead of double-reporting.
func (r *Registry) DeleteByToken(token string) (bool, error) {
	result, err := r.db.Exec("DELETE FROM entries WHERE token = ?", token)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	return rowsAffected > 0, err
}

// DeleteByIDs removes the given entries and returns how many actually
// existed. Missing ids are skipped, not errors.
func (r *Registry) DeleteByIDs(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := r.db.Exec(
		"DELETE FROM entries WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListOptions control the admin paged listing.
type ListOptions struct {
	Offset     int
	Limit      int
	SortColumn string
	SortDir    string
	Search     string
}

// Whitelist of sortable columns; anything else falls back to creation time.
var sortColumns = map[string]bool{
	"id": true, "token": true, "file_name": true, "size": true,
	"uploader_ip": true, "created_at": true, "expires_at": true,
}

// List returns up to Limit entries starting at Offset. The secondary sort
// on token keeps paging deterministic when the sort column has ties.
func (r *Registry) List(opts ListOptions) ([]*types.VaultEntry, error) {
	if opts.Limit <= 0 || opts.Limit > 1000 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if !sortColumns[opts.SortColumn] {
		opts.SortColumn = "created_at"
	}
	dir := strings.ToUpper(opts.SortDir)
	if dir != "ASC" && dir != "DESC" {
		dir = "ASC"
	}

	whereClause, args := searchClause(opts.Search)
	query := fmt.Sprintf(
		"SELECT %s FROM entries %s ORDER BY %s %s, token ASC LIMIT ? OFFSET ?",
		entryColumns, whereClause, opts.SortColumn, dir)
	args = append(args, opts.Limit, opts.Offset)

	return r.queryEntries(query, args...)
}

// Count returns the number of entries matching the search term, for
// pagination totals.
func (r *Registry) Count(search string) (int64, error) {
	whereClause, args := searchClause(search)
	var count int64
	err := r.db.QueryRow("SELECT COUNT(*) FROM entries "+whereClause, args...).Scan(&count)
	return count, err
}

func searchClause(search string) (string, []interface{}) {
	if search == "" {
		return "", nil
	}
	pattern := "%" + search + "%"
	return "WHERE (token LIKE ? OR uploader_ip LIKE ? OR file_name LIKE ?)",
		[]interface{}{pattern, pattern, pattern}
}

func (r *Registry) ListAll() ([]*types.VaultEntry, error) {
	return r.queryEntries(
		"SELECT " + entryColumns + " FROM entries ORDER BY created_at ASC, token ASC")
}

// ListExpired returns entries whose expiry has passed at the given time.
func (r *Registry) ListExpired(now time.Time) ([]*types.VaultEntry, error) {
	return r.queryEntries(
		"SELECT "+entryColumns+" FROM entries WHERE expires_at IS NOT NULL AND expires_at <= ?",
		now)
}

// ListByIP returns all entries uploaded from the given address.
func (r *Registry) ListByIP(ip string) ([]*types.VaultEntry, error) {
	return r.queryEntries(
		"SELECT "+entryColumns+" FROM entries WHERE uploader_ip = ?", ip)
}

func (r *Registry) queryEntries(query string, args ...interface{}) ([]*types.VaultEntry, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*types.VaultEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// IsBlocked reports whether the normalized address is on the block list.
func (r *Registry) IsBlocked(ip string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM blocked_ips WHERE ip = ?)", ip).Scan(&exists)
	return exists, err
}

// Block adds the address to the block list. Re-blocking is not an error;
// the return value reports whether a new record was created.
func (r *Registry) Block(ip string, blockedAt time.Time) (bool, error) {
	result, err := r.db.Exec(
		"INSERT OR IGNORE INTO blocked_ips (ip, blocked_at) VALUES (?, ?)",
		ip, blockedAt)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	return rowsAffected > 0, err
}

// Unblock removes the given addresses and returns how many were blocked.
func (r *Registry) Unblock(ips []string) (int64, error) {
	if len(ips) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ips)), ",")
	args := make([]interface{}, len(ips))
	for i, ip := range ips {
		args[i] = ip
	}

	result, err := r.db.Exec(
		"DELETE FROM blocked_ips WHERE ip IN ("+placeholders+")", args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *Registry) BlockedIPs() ([]types.BlockedIP, error) {
	rows, err := r.db.Query(
		"SELECT ip, blocked_at FROM blocked_ips ORDER BY blocked_at ASC, ip ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocked []types.BlockedIP
	for rows.Next() {
		var b types.BlockedIP
		if err := rows.Scan(&b.IP, &b.BlockedAt); err != nil {
			return nil, err
		}
		blocked = append(blocked, b)
	}
	return blocked, rows.Err()
}

func (r *Registry) Close() error {
	return r.db.Close()
}
