// Package scanner gates new uploads behind an external antivirus oracle.
package scanner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Result is the verdict for a single scan. Reason carries the external
// tool's exit status and output verbatim when the scan fails.
type Result struct {
	Passed bool
	Reason string
}

// Scanner is the antivirus capability. Callers must check Enabled before
// invoking Scan; a disabled gate is skipped, not called.
type Scanner interface {
	Enabled() bool
	Scan(ctx context.Context, name string, data []byte) (Result, error)
}

// Disabled is the gate used when no scanner binary is configured.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Scan(context.Context, string, []byte) (Result, error) {
	return Result{}, fmt.Errorf("scanner: not configured")
}

// ClamAV shells out to clamdscan. The caller bounds the invocation with a
// context deadline; an exceeded deadline or spawn failure is an error (the
// gate was unavailable), while a non-zero scan verdict is a failed Result.
type ClamAV struct {
	clamPath string
}

func NewClamAV(clamPath string) *ClamAV {
	return &ClamAV{clamPath: clamPath}
}

func (c *ClamAV) Enabled() bool {
	return c.clamPath != ""
}

func (c *ClamAV) Scan(ctx context.Context, name string, data []byte) (Result, error) {
	// clamdscan wants a path, so stage the candidate bytes in a temp file.
	tempFile, err := os.CreateTemp("", "scan-*-"+filepath.Base(name))
	if err != nil {
		return Result{}, fmt.Errorf("scanner: staging file: %w", err)
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return Result{}, fmt.Errorf("scanner: staging file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return Result{}, fmt.Errorf("scanner: staging file: %w", err)
	}

	cmd := exec.CommandContext(ctx, filepath.Join(c.clamPath, "clamdscan"), tempFile.Name())
	output, err := cmd.CombinedOutput()
	if err == nil {
		return Result{Passed: true}, nil
	}

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		// The binary could not be spawned at all.
		return Result{}, fmt.Errorf("scanner: running clamdscan: %w", err)
	}

	reason := fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(output)))
	return Result{Passed: false, Reason: reason}, nil
}
