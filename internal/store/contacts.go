package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Named is a lookup row of a table identified by name.
type Named struct {
	ID   int64
	Name string
}

// Company is a row of companies.
type Company struct {
	ID     int64
	Name   string
	Domain string
}

// ContactRef identifies an existing contact by email.
type ContactRef struct {
	ID    int64
	Email string
}

// ContactParams are the columns written for one contact.
type ContactParams struct {
	ID          int64 // ignored on insert
	Email       string
	FirstName   string
	LastName    string
	Phone       string
	CompanyID   int64 // 0 stores NULL
	TagIDs      []int64
	InterestIDs []int64
}

// ListMemberParams links a contact to a mailing list.
type ListMemberParams struct {
	ContactID int64
	ListID    int64
}

func (s *Store) Companies(ctx context.Context) ([]Company, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, domain FROM companies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Company, error) {
		var c Company
		err := row.Scan(&c.ID, &c.Name, &c.Domain)
		return c, err
	})
}

func (s *Store) Tags(ctx context.Context) ([]Named, error) {
	return s.named(ctx, "tags")
}

func (s *Store) Lists(ctx context.Context) ([]Named, error) {
	return s.named(ctx, "lists")
}

// named lists id and name of table. table is one of the fixed lookup tables.
func (s *Store) named(ctx context.Context, table string) ([]Named, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id, name FROM %s ORDER BY id`, pgx.Identifier{table}.Sanitize()))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Named, error) {
		var n Named
		err := row.Scan(&n.ID, &n.Name)
		return n, err
	})
}

// ContactEmails returns id and lower-cased email of every contact.
func (s *Store) ContactEmails(ctx context.Context) ([]ContactRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, lower(email) FROM contacts`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ContactRef, error) {
		var c ContactRef
		err := row.Scan(&c.ID, &c.Email)
		return c, err
	})
}

const insertCompany = `
INSERT INTO companies (name, domain) VALUES ($1, $2)
ON CONFLICT ((lower(name))) DO UPDATE SET domain = CASE WHEN companies.domain = '' THEN EXCLUDED.domain ELSE companies.domain END
RETURNING id`

func (s *Store) InsertCompanies(ctx context.Context, companies []Company) ([]int64, error) {
	args := make([][]any, len(companies))
	for i, c := range companies {
		args[i] = []any{strings.TrimSpace(c.Name), c.Domain}
	}
	return s.insertReturning(ctx, insertCompany, args)
}

const insertTag = `
INSERT INTO tags (name) VALUES ($1)
ON CONFLICT ((lower(name))) DO UPDATE SET name = tags.name
RETURNING id`

func (s *Store) InsertTags(ctx context.Context, names []string) ([]int64, error) {
	return s.insertReturning(ctx, insertTag, nameArgs(names))
}

const insertList = `
INSERT INTO lists (name) VALUES ($1)
ON CONFLICT ((lower(name))) DO UPDATE SET name = lists.name
RETURNING id`

func (s *Store) InsertLists(ctx context.Context, names []string) ([]int64, error) {
	return s.insertReturning(ctx, insertList, nameArgs(names))
}

func nameArgs(names []string) [][]any {
	args := make([][]any, len(names))
	for i, n := range names {
		args[i] = []any{strings.TrimSpace(n)}
	}
	return args
}

const insertContact = `
INSERT INTO contacts (email, first_name, last_name, phone, company_id, tag_ids, interest_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

func (s *Store) InsertContacts(ctx context.Context, contacts []ContactParams) ([]int64, error) {
	args := make([][]any, len(contacts))
	for i, c := range contacts {
		args[i] = []any{c.Email, c.FirstName, c.LastName, c.Phone, nullID(c.CompanyID), ids(c.TagIDs), ids(c.InterestIDs)}
	}
	return s.insertReturning(ctx, insertContact, args)
}

const updateContact = `
UPDATE contacts SET
    first_name   = CASE WHEN $2 = '' THEN first_name ELSE $2 END,
    last_name    = CASE WHEN $3 = '' THEN last_name ELSE $3 END,
    phone        = CASE WHEN $4 = '' THEN phone ELSE $4 END,
    company_id   = COALESCE($5, company_id),
    tag_ids      = ARRAY(SELECT DISTINCT unnest(tag_ids || $6::BIGINT[])),
    interest_ids = ARRAY(SELECT DISTINCT unnest(interest_ids || $7::BIGINT[])),
    updated_at   = now()
WHERE id = $1`

// UpdateContacts merges non-empty columns into existing contacts. Id arrays
// are unioned with what is stored.
func (s *Store) UpdateContacts(ctx context.Context, contacts []ContactParams) error {
	args := make([][]any, len(contacts))
	for i, c := range contacts {
		args[i] = []any{c.ID, c.FirstName, c.LastName, c.Phone, nullID(c.CompanyID), ids(c.TagIDs), ids(c.InterestIDs)}
	}
	return s.execEach(ctx, updateContact, args)
}

const insertListMember = `
INSERT INTO list_members (contact_id, list_id) VALUES ($1, $2)
ON CONFLICT (contact_id, list_id) DO UPDATE SET contact_id = EXCLUDED.contact_id
RETURNING id`

func (s *Store) InsertListMembers(ctx context.Context, members []ListMemberParams) ([]int64, error) {
	args := make([][]any, len(members))
	for i, m := range members {
		args[i] = []any{m.ContactID, m.ListID}
	}
	return s.insertReturning(ctx, insertListMember, args)
}

func nullID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id != 0}
}

// ids never returns nil so the column default '{}' is matched instead of NULL.
func ids(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}
