// Package sqlite is a reference account.Store backed by an embedded SQLite
// database. It keeps accounts, their fields, their roles, and the links
// between unique subject IDs and accounts.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/samlx/samlsp/account"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	blocked INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS account_fields (
	account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	field      TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	PRIMARY KEY (account_id, field)
);

CREATE INDEX IF NOT EXISTS account_fields_by_value
	ON account_fields (field, value);

CREATE TABLE IF NOT EXISTS account_roles (
	account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	role       TEXT    NOT NULL,
	PRIMARY KEY (account_id, role)
);

CREATE TABLE IF NOT EXISTS account_links (
	unique_id  TEXT PRIMARY KEY,
	account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE
);
`

// Store implements account.Store on an SQLite database.
type Store struct {
	db     *sql.DB
	fields []string
}

var _ account.Store = (*Store)(nil)

// Open opens (or creates) the database at path and prepares the schema.
// The fields slice declares which account field identifiers this store
// accepts; mappings are validated against it.
func Open(path string, fields []string) (*Store, error) {
	const op = "sqlite.Open"

	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: no account fields declared: %w", op, account.ErrInvalidParameter)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%s: opening database: %w", op, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: preparing schema: %w", op, err)
	}

	return &Store{db: db, fields: append([]string(nil), fields...)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Fields lists the declared account field identifiers.
func (s *Store) Fields() []string {
	return append([]string(nil), s.fields...)
}

// LookupByLink returns the account linked to uniqueID, or nil when no link
// exists.
func (s *Store) LookupByLink(ctx context.Context, uniqueID string) (account.Account, error) {
	const op = "sqlite.Store.LookupByLink"

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id FROM account_links WHERE unique_id = ?`, uniqueID,
	).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	acct, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return acct, nil
}

// Query returns the accounts matching the conditions. Each condition is one
// field/value equality; the conjunction decides whether the per-condition
// result sets are intersected or unioned. Results come back ordered by
// account ID.
func (s *Store) Query(
	ctx context.Context, conditions []account.Condition, conj account.Conjunction,
) ([]account.Account, error) {
	const op = "sqlite.Store.Query"

	if len(conditions) == 0 {
		return nil, nil
	}

	var ids map[int64]struct{}
	for i, cond := range conditions {
		matched, err := s.idsMatching(ctx, cond)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if i == 0 {
			ids = matched
			continue
		}

		if conj == account.ConjunctionOr {
			for id := range matched {
				ids[id] = struct{}{}
			}
			continue
		}

		// AND: intersect with what survived so far.
		for id := range ids {
			if _, ok := matched[id]; !ok {
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, nil
		}
	}

	ordered := make([]int64, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	accounts := make([]account.Account, 0, len(ordered))
	for _, id := range ordered {
		acct, err := s.load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		accounts = append(accounts, acct)
	}

	return accounts, nil
}

func (s *Store) idsMatching(ctx context.Context, cond account.Condition) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id FROM account_fields WHERE field = ? AND value = ?`,
		cond.Field, cond.Value,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}

	return ids, rows.Err()
}

// SaveLink associates uniqueID with the account, replacing any previous
// association of that ID.
func (s *Store) SaveLink(ctx context.Context, uniqueID string, acct account.Account) error {
	const op = "sqlite.Store.SaveLink"

	id, err := parseID(acct)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO account_links (unique_id, account_id) VALUES (?, ?)
		 ON CONFLICT(unique_id) DO UPDATE SET account_id = excluded.account_id`,
		uniqueID, id,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Create persists a new account from the seed.
func (s *Store) Create(ctx context.Context, seed account.Seed) (account.Account, error) {
	const op = "sqlite.Store.Create"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO accounts (blocked) VALUES (0)`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for field, value := range seed.Fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_fields (account_id, field, value) VALUES (?, ?, ?)`,
			id, field, value,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	for _, role := range seed.Roles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_roles (account_id, role) VALUES (?, ?)`,
			id, role,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	acct, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return acct, nil
}

// Save writes an account's in-memory field and role state back to the
// database.
func (s *Store) Save(ctx context.Context, acct account.Account) error {
	const op = "sqlite.Store.Save"

	rec, ok := acct.(*record)
	if !ok {
		return fmt.Errorf("%s: account was not loaded from this store: %w",
			op, account.ErrInvalidParameter)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	for field, value := range rec.fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_fields (account_id, field, value) VALUES (?, ?, ?)
			 ON CONFLICT(account_id, field) DO UPDATE SET value = excluded.value`,
			rec.id, field, value,
		); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM account_roles WHERE account_id = ?`, rec.id,
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, role := range rec.roles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_roles (account_id, role) VALUES (?, ?)`,
			rec.id, role,
		); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SetBlocked flips an account's blocked flag. Administrative operation, not
// part of the account.Store interface.
func (s *Store) SetBlocked(ctx context.Context, acct account.Account, blocked bool) error {
	const op = "sqlite.Store.SetBlocked"

	id, err := parseID(acct)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	flag := 0
	if blocked {
		flag = 1
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET blocked = ? WHERE id = ?`, flag, id,
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Store) load(ctx context.Context, id int64) (*record, error) {
	var blocked int
	err := s.db.QueryRowContext(ctx,
		`SELECT blocked FROM accounts WHERE id = ?`, id,
	).Scan(&blocked)
	if err != nil {
		return nil, err
	}

	rec := &record{
		id:      id,
		blocked: blocked != 0,
		fields:  map[string]string{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM account_fields WHERE account_id = ?`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		rec.fields[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roleRows, err := s.db.QueryContext(ctx,
		`SELECT role FROM account_roles WHERE account_id = ? ORDER BY role`, id,
	)
	if err != nil {
		return nil, err
	}
	defer roleRows.Close()
	for roleRows.Next() {
		var role string
		if err := roleRows.Scan(&role); err != nil {
			return nil, err
		}
		rec.roles = append(rec.roles, role)
	}

	return rec, roleRows.Err()
}

func parseID(acct account.Account) (int64, error) {
	id, err := strconv.ParseInt(acct.ID(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed account ID %q: %w", acct.ID(), account.ErrInvalidParameter)
	}
	return id, nil
}

// record is the in-memory form of one account row.
type record struct {
	id      int64
	blocked bool
	fields  map[string]string
	roles   []string
}

var _ account.Account = (*record)(nil)

func (r *record) ID() string {
	return strconv.FormatInt(r.id, 10)
}

func (r *record) IsBlocked() bool {
	return r.blocked
}

func (r *record) Get(field string) string {
	return r.fields[field]
}

func (r *record) Set(field, value string) bool {
	if current, ok := r.fields[field]; ok && current == value {
		return false
	}
	r.fields[field] = value
	return true
}

func (r *record) Roles() []string {
	return append([]string(nil), r.roles...)
}

func (r *record) SetRoles(roles []string) bool {
	if equalSets(r.roles, roles) {
		return false
	}
	r.roles = append([]string(nil), roles...)
	return true
}

// equalSets compares role sets ignoring order.
func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		if seen[v] == 0 {
			return false
		}
		seen[v]--
	}
	return true
}
