package ledger

import (
	"smsrelay/storage"
)

// SQLite is a ledger persisted in the seen_message_ids table of a storage.Store.
type SQLite struct {
	keySet
	store *storage.Store
}

// OpenSQLite loads every recorded identifier from store.
//
// As with Load, the returned ledger is always usable; a read failure yields an
// empty ledger and a *StateError.
func OpenSQLite(store *storage.Store) (*SQLite, error) {
	ledger := &SQLite{keySet: newKeySet(nil), store: store}

	keys, err := store.ListSeenIDs()
	if err != nil {
		return ledger, &StateError{Op: "list", Err: err}
	}
	ledger.keySet = newKeySet(keys)

	return ledger, nil
}

// Persist inserts every key added since the last Persist in one transaction.
func (l *SQLite) Persist() error {
	if !l.Dirty() {
		return nil
	}
	if err := l.store.InsertSeenIDs(l.pending, 0); err != nil {
		return &StateError{Op: "insert", Err: err}
	}
	l.pending = nil
	return nil
}
