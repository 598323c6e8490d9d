// Package store provides the encrypted, transactional SQLite persistence
// layer. Secret payloads are sealed with a key derived from the operator
// passphrase; the store refuses to open under a wrong passphrase.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	sqlite3 "modernc.org/sqlite"
)

var (
	// ErrDatabaseLocked is returned when the passphrase cannot unlock
	// the store or a sealed payload cannot be recovered.
	ErrDatabaseLocked = errors.New("store: database locked")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned on unique constraint violations.
	ErrConflict = errors.New("store: conflict")
)

const (
	metaKDFSalt  = "kdf_salt"
	metaKeyCheck = "key_check"
)

// Store is the secrets database handle. Read helpers run directly on the
// connection; composite writes go through WithTx.
type Store struct {
	queries
	db     *sql.DB
	logger *logrus.Logger
}

// Tx exposes the same query surface inside a single transaction.
type Tx struct {
	queries
}

// Open opens (or creates) the database at path and unlocks it with
// passphrase. A wrong passphrase fails with ErrDatabaseLocked.
func Open(path, passphrase string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	sealer, err := unlock(db, passphrase)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("db_path", path).Info("Secret store unlocked")

	return &Store{
		queries: queries{db: db, sealer: sealer},
		db:      db,
		logger:  logger,
	}, nil
}

// unlock derives the sealing key and validates it against the stored key
// check, initializing both on first open.
func unlock(db *sql.DB, passphrase string) (*sealer, error) {
	salt, err := getMeta(db, metaKDFSalt)
	if err != nil {
		return nil, err
	}

	if salt == nil {
		salt, err = newSalt()
		if err != nil {
			return nil, err
		}

		s, err := newSealer(passphrase, salt)
		if err != nil {
			return nil, err
		}

		check, err := s.seal([]byte(keyCheckCanary))
		if err != nil {
			return nil, err
		}

		tx, err := db.Begin()
		if err != nil {
			return nil, fmt.Errorf("failed to begin key setup transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec("INSERT INTO store_meta (k, v) VALUES (?, ?)", metaKDFSalt, salt); err != nil {
			return nil, fmt.Errorf("failed to store kdf salt: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO store_meta (k, v) VALUES (?, ?)", metaKeyCheck, check); err != nil {
			return nil, fmt.Errorf("failed to store key check: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit key setup: %w", err)
		}

		return s, nil
	}

	s, err := newSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}

	check, err := getMeta(db, metaKeyCheck)
	if err != nil {
		return nil, err
	}
	if check == nil {
		return nil, ErrDatabaseLocked
	}

	plain, err := s.open(check)
	if err != nil || string(plain) != keyCheckCanary {
		return nil, ErrDatabaseLocked
	}

	return s, nil
}

func getMeta(db *sql.DB, key string) ([]byte, error) {
	var value []byte
	err := db.QueryRow("SELECT v FROM store_meta WHERE k = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store metadata: %w", err)
	}
	return value, nil
}

// WithTx runs fn inside a single write transaction. All cross-row
// invariants (name uniqueness, stage uniqueness, the AWSCURRENT rotation)
// rely on this being atomic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{queries: queries{db: tx, sealer: s.sealer}}); err != nil {
		return err
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// mapError normalizes driver errors; unique constraint violations become
// ErrConflict so callers can render ResourceExistsException.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return ErrNotFound
	}

	var serr *sqlite3.Error
	if errors.As(err, &serr) && serr.Code()&0xff == 19 { // SQLITE_CONSTRAINT
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}

	return err
}
