package migration

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMigrationFailed      = errors.New("migration: execution failed")
	ErrInvalidMigrationFile = errors.New("migration: invalid migration file")
	ErrDuplicateVersion     = errors.New("migration: duplicate version")
	// ErrChecksumMismatch reports an applied migration file that was edited
	// afterwards.
	ErrChecksumMismatch = errors.New("migration: applied file checksum changed")
)

// MigrationError attaches the migration version, source file and failing
// step to an underlying error.
type MigrationError struct {
	Version string
	Path    string
	Op      string
	Err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	b.WriteString("migration")
	if e.Version != "" {
		b.WriteString(" " + e.Version)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	fmt.Fprintf(&b, ": %s: %v", e.Op, e.Err)
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

func fileError(version, path, op string, err error) *MigrationError {
	return &MigrationError{Version: version, Path: path, Op: op, Err: err}
}

func dbError(version, op string, err error) *MigrationError {
	return &MigrationError{Version: version, Op: op, Err: err}
}
