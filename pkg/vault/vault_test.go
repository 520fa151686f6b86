package vault

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zots0127/filevault/pkg/crypto"
	"github.com/zots0127/filevault/pkg/registry"
	"github.com/zots0127/filevault/pkg/scanner"
	"github.com/zots0127/filevault/pkg/storage"
)

type stubScanner struct {
	enabled bool
	scanFn  func(ctx context.Context, name string, data []byte) (scanner.Result, error)
}

func (s *stubScanner) Enabled() bool { return s.enabled }

func (s *stubScanner) Scan(ctx context.Context, name string, data []byte) (scanner.Result, error) {
	return s.scanFn(ctx, name, data)
}

type testVault struct {
	engine   *Engine
	store    *storage.Local
	registry *registry.Registry
	blobDir  string
	clock    *time.Time
}

func newTestVault(t *testing.T, gate scanner.Scanner) *testVault {
	t.Helper()

	blobDir := t.TempDir()
	store, err := storage.NewLocal(blobDir)
	require.NoError(t, err)

	reg, err := registry.Open(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	crypt, err := crypto.New("abcd1234")
	require.NoError(t, err)

	if gate == nil {
		gate = scanner.Disabled{}
	}

	engine := New(store, reg, crypt, gate, Options{
		MaxFileSize:  1 << 20,
		MinRetention: time.Hour,
		MaxRetention: 24 * time.Hour,
		ScanTimeout:  time.Second,
	})

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v := &testVault{engine: engine, store: store, registry: reg, blobDir: blobDir, clock: &clock}
	engine.now = func() time.Time { return *v.clock }
	return v
}

func (v *testVault) advance(d time.Duration) {
	*v.clock = v.clock.Add(d)
}

func (v *testVault) blobCount(t *testing.T) int {
	t.Helper()
	count := 0
	err := filepath.WalkDir(v.blobDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	return count
}

func TestUploadFetchDeleteCycle(t *testing.T) {
	v := newTestVault(t, nil)
	payload := []byte("0123456789")

	result, err := v.engine.Upload(context.Background(), UploadRequest{
		Data:     payload,
		FileName: "a.txt",
		IP:       "1.2.3.4",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)
	require.NotNil(t, result.ExpiresAt)

	fetched, err := v.engine.Fetch(result.Token, "")
	require.NoError(t, err)
	assert.Equal(t, payload, fetched.Bytes)
	assert.Equal(t, "a.txt", fetched.FileName)

	deleted, err := v.engine.Delete(result.Token)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = v.engine.Fetch(result.Token, "")
	assert.ErrorIs(t, err, ErrNotFound)

	// Idempotent: the second delete is not an error.
	deleted, err = v.engine.Delete(result.Token)
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.Equal(t, 0, v.blobCount(t))
}

func TestUploadValidation(t *testing.T) {
	v := newTestVault(t, nil)

	tests := []struct {
		name string
		req  UploadRequest
	}{
		{name: "neither file nor url", req: UploadRequest{IP: "1.2.3.4"}},
		{
			name: "both file and url",
			req:  UploadRequest{Data: []byte("x"), URL: "https://example.com", IP: "1.2.3.4"},
		},
		{
			name: "oversize file",
			req:  UploadRequest{Data: make([]byte, 2<<20), IP: "1.2.3.4"},
		},
		{
			name: "encrypt without password",
			req:  UploadRequest{Data: []byte("x"), Encrypt: true, IP: "1.2.3.4"},
		},
		{
			name: "encrypt url entry",
			req:  UploadRequest{URL: "https://example.com", Password: "pw", Encrypt: true, IP: "1.2.3.4"},
		},
		{
			name: "unsupported url scheme",
			req:  UploadRequest{URL: "ftp://example.com/a", IP: "1.2.3.4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.engine.Upload(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	assert.Equal(t, 0, v.blobCount(t))
}

func TestUploadFromBlockedIP(t *testing.T) {
	v := newTestVault(t, nil)
	require.NoError(t, v.engine.BlockIP("6.6.6.6", false))

	_, err := v.engine.Upload(context.Background(), UploadRequest{
		Data: []byte("x"),
		IP:   "6.6.6.6",
	})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, v.blobCount(t))
}

func TestPasswordProtectedEntry(t *testing.T) {
	v := newTestVault(t, nil)
	payload := []byte("guarded but plaintext")

	result, err := v.engine.Upload(context.Background(), UploadRequest{
		Data:     payload,
		FileName: "p.txt",
		IP:       "1.2.3.4",
		Password: "pw",
	})
	require.NoError(t, err)

	_, err = v.engine.Fetch(result.Token, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = v.engine.Fetch(result.Token, "wrong")
	assert.ErrorIs(t, err, ErrIncorrectPassword)

	fetched, err := v.engine.Fetch(result.Token, "pw")
	require.NoError(t, err)
	assert.Equal(t, payload, fetched.Bytes)

	// Password-only protection leaves the stored bytes in plaintext.
	entry, err := v.registry.GetByToken(result.Token)
	require.NoError(t, err)
	stored, err := v.store.Get(entry.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestEncryptedEntry(t *testing.T) {
	v := newTestVault(t, nil)
	payload := []byte("secret contents worth hiding")

	result, err := v.engine.Upload(context.Background(), UploadRequest{
		Data:     payload,
		FileName: "s.bin",
		IP:       "1.2.3.4",
		Password: "pw",
		Encrypt:  true,
	})
	require.NoError(t, err)

	// At rest the blob must not contain the plaintext.
	entry, err := v.registry.GetByToken(result.Token)
	require.NoError(t, err)
	stored, err := v.store.Get(entry.StorageKey)
	require.NoError(t, err)
	assert.NotEqual(t, payload, stored)
	assert.Len(t, stored, len(payload)+16)
	assert.Equal(t, int64(len(payload)), entry.Size)

	_, err = v.engine.Fetch(result.Token, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = v.engine.Fetch(result.Token, "wrong")
	assert.ErrorIs(t, err, ErrIncorrectPassword)

	fetched, err := v.engine.Fetch(result.Token, "pw")
	require.NoError(t, err)
	assert.Equal(t, payload, fetched.Bytes)
}

func TestScanRejectedUpload(t *testing.T) {
	gate := &stubScanner{
		enabled: true,
		scanFn: func(ctx context.Context, name string, data []byte) (scanner.Result, error) {
			return scanner.Result{Passed: false, Reason: "exit status 1: Eicar-Test-Signature FOUND"}, nil
		},
	}
	v := newTestVault(t, gate)

	_, err := v.engine.Upload(context.Background(), UploadRequest{
		Data:     []byte("malware"),
		FileName: "evil.exe",
		IP:       "1.2.3.4",
	})

	var scanErr *ScanRejectedError
	require.ErrorAs(t, err, &scanErr)
	assert.Contains(t, scanErr.Reason, "Eicar-Test-Signature")

	// No entry and no blob survive a failed scan.
	entries, listErr := v.engine.ListAll()
	require.NoError(t, listErr)
	assert.Empty(t, entries)
	assert.Equal(t, 0, v.blobCount(t))
}

func TestScanUnavailable(t *testing.T) {
	gate := &stubScanner{
		enabled: true,
		scanFn: func(ctx context.Context, name string, data []byte) (scanner.Result, error) {
			return scanner.Result{}, errors.New("clamd not running")
		},
	}
	v := newTestVault(t, gate)

	_, err := v.engine.Upload(context.Background(), UploadRequest{
		Data: []byte("fine file"),
		IP:   "1.2.3.4",
	})
	assert.ErrorIs(t, err, ErrScanUnavailable)
	assert.Equal(t, 0, v.blobCount(t))
}

func TestDisabledScannerIsNeverCalled(t *testing.T) {
	gate := &stubScanner{
		enabled: false,
		scanFn: func(ctx context.Context, name string, data []byte) (scanner.Result, error) {
			t.Fatal("disabled scanner must not be invoked")
			return scanner.Result{}, nil
		},
	}
	v := newTestVault(t, gate)

	_, err := v.engine.Upload(context.Background(), UploadRequest{
		Data: []byte("content"),
		IP:   "1.2.3.4",
	})
	require.NoError(t, err)
}

func TestTokenCollisionRetry(t *testing.T) {
	v := newTestVault(t, nil)

	v.engine.newToken = func() string { return "collision" }
	_, err := v.engine.Upload(context.Background(), UploadRequest{
		Data: []byte("first"),
		IP:   "1.2.3.4",
	})
	require.NoError(t, err)

	// The next upload collides once, then succeeds on a fresh token.
	calls := 0
	v.engine.newToken = func() string {
		calls++
		if calls == 1 {
			return "collision"
		}
		return "fresh"
	}
	result, err := v.engine.Upload(context.Background(), UploadRequest{
		Data: []byte("second"),
		IP:   "1.2.3.4",
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", result.Token)
	assert.Equal(t, 2, calls)
}

func TestTokenSpaceExhaustion(t *testing.T) {
	v := newTestVault(t, nil)

	v.engine.newToken = func() string { return "stuck" }
	_, err := v.engine.Upload(context.Background(), UploadRequest{
		Data: []byte("first"),
		IP:   "1.2.3.4",
	})
	require.NoError(t, err)

	_, err = v.engine.Upload(context.Background(), UploadRequest{
		Data: []byte("second"),
		IP:   "1.2.3.4",
	})
	assert.ErrorIs(t, err, ErrInternal)

	// The losing upload's blob must not be left behind.
	assert.Equal(t, 1, v.blobCount(t))
}

func TestExpiredEntryIsAbsentBeforeSweep(t *testing.T) {
	v := newTestVault(t, nil)

	result, err := v.engine.Upload(context.Background(), UploadRequest{
		Data: []byte("short lived"),
		IP:   "1.2.3.4",
	})
	require.NoError(t, err)

	_, err = v.engine.GetInfo(result.Token)
	require.NoError(t, err)

	v.advance(25 * time.Hour)

	_, err = v.engine.GetInfo(result.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = v.engine.Fetch(result.Token, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepExpired(t *testing.T) {
	v := newTestVault(t, nil)

	first, err := v.engine.Upload(context.Background(), UploadRequest{
		Data: []byte("one"), IP: "1.2.3.4",
	})
	require.NoError(t, err)
	second, err := v.engine.Upload(context.Background(), UploadRequest{
		Data: []byte("two"), IP: "1.2.3.4",
	})
	require.NoError(t, err)

	swept, err := v.engine.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	v.advance(25 * time.Hour)

	swept, err = v.engine.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, swept)
	assert.Equal(t, 0, v.blobCount(t))

	_, err = v.engine.GetInfo(first.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = v.engine.GetInfo(second.Token)
	assert.ErrorIs(t, err, ErrNotFound)

	// A second pass finds nothing left.
	swept, err = v.engine.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
}

func TestURLEntry(t *testing.T) {
	v := newTestVault(t, nil)

	result, err := v.engine.Upload(context.Background(), UploadRequest{
		URL: "https://example.com/archive.zip",
		IP:  "1.2.3.4",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, v.blobCount(t))

	info, err := v.engine.GetInfo(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/archive.zip", info.RemoteURL)

	fetched, err := v.engine.Fetch(result.Token, "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/archive.zip", fetched.RemoteURL)
	assert.Nil(t, fetched.Bytes)

	deleted, err := v.engine.Delete(result.Token)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestGetInfoNeverReturnsBytesOrHash(t *testing.T) {
	v := newTestVault(t, nil)

	result, err := v.engine.Upload(context.Background(), UploadRequest{
		Data:     []byte("0123456789"),
		FileName: "a.txt",
		IP:       "1.2.3.4",
		Password: "pw",
	})
	require.NoError(t, err)

	info, err := v.engine.GetInfo(result.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)
	assert.Equal(t, "a.txt", info.FileName)
	assert.Positive(t, info.TimeRemaining)
}

func TestRetentionScalesWithSize(t *testing.T) {
	v := newTestVault(t, nil)

	small, err := v.engine.Upload(context.Background(), UploadRequest{
		Data: []byte("x"), IP: "1.2.3.4",
	})
	require.NoError(t, err)

	big, err := v.engine.Upload(context.Background(), UploadRequest{
		Data: make([]byte, 1<<20), IP: "1.2.3.4",
	})
	require.NoError(t, err)

	// A file at the size cap lives exactly the minimum retention.
	assert.True(t, big.ExpiresAt.Equal(v.clock.Add(time.Hour)))
	assert.True(t, small.ExpiresAt.After(*big.ExpiresAt))

	url, err := v.engine.Upload(context.Background(), UploadRequest{
		URL: "https://example.com", IP: "1.2.3.4",
	})
	require.NoError(t, err)
	assert.True(t, url.ExpiresAt.Equal(v.clock.Add(24*time.Hour)))
}
