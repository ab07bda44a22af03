package db

import (
	"strings"

	"github.com/teranos/hypermark/errors"
)

// ErrDatabaseClosed is returned by stores whose database was closed, usually
// during shutdown while a drain was still in flight.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed matches ErrDatabaseClosed and the raw driver message,
// which database/sql returns unwrapped.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// storeErr maps driver shutdown errors onto ErrDatabaseClosed.
func storeErr(err error, msg string) error {
	if IsDatabaseClosed(err) {
		return errors.Wrap(ErrDatabaseClosed, msg)
	}
	return errors.Wrap(err, msg)
}
