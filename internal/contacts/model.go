package contacts

import (
	"strings"

	"github.com/JonMunkholm/rowimport/internal/store"
)

// Contact is the primary record of the profile. The raw reference columns
// are resolved into the id fields during the run.
type Contact struct {
	ID        int64
	Email     string `csv:"email" validate:"required,email,max=254"`
	FirstName string `csv:"first_name" validate:"max=100"`
	LastName  string `csv:"last_name" validate:"max=100"`
	Phone     string `csv:"phone" validate:"omitempty,max=40,phone"`

	Company   string `csv:"company"`
	Tags      string `csv:"tags"`
	Interests string `csv:"interests"`
	Lists     string `csv:"lists"`

	CompanyID   int64
	TagIDs      []int64
	InterestIDs []int64
	ListIDs     []int64

	// badEmail marks rows whose email, the contact's identity, failed
	// validation. Such rows are never committed.
	badEmail bool
}

func (c *Contact) EntityID() int64 { return c.ID }
func (c *Contact) SetEntityID(id int64) { c.ID = id }

// Normalize trims every column and lower-cases the email.
func (c *Contact) Normalize() {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Company = strings.TrimSpace(c.Company)
}

// Domain returns the part of the email after '@'.
func (c *Contact) Domain() string {
	_, domain, ok := strings.Cut(c.Email, "@")
	if !ok {
		return ""
	}
	return domain
}

func (c *Contact) params() store.ContactParams {
	return store.ContactParams{
		ID:          c.ID,
		Email:       c.Email,
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		Phone:       c.Phone,
		CompanyID:   c.CompanyID,
		TagIDs:      c.TagIDs,
		InterestIDs: c.InterestIDs,
	}
}

// Company is referenced by name from the company column.
type Company struct {
	ID     int64
	Name   string
	Domain string
}

func (c *Company) EntityID() int64 { return c.ID }
func (c *Company) SetEntityID(id int64) { c.ID = id }
func (c *Company) Title() string { return c.Name }

// Tag is referenced from the tags and interests columns.
type Tag struct {
	ID   int64
	Name string
}

func (t *Tag) EntityID() int64 { return t.ID }
func (t *Tag) SetEntityID(id int64) { t.ID = id }
func (t *Tag) Title() string { return t.Name }

// List is a mailing list referenced from the lists column.
type List struct {
	ID   int64
	Name string
}

func (l *List) EntityID() int64 { return l.ID }
func (l *List) SetEntityID(id int64) { l.ID = id }
func (l *List) Title() string { return l.Name }

// Membership puts a contact on a mailing list.
type Membership struct {
	ID        int64
	ContactID int64
	ListID    int64
}

func (m *Membership) EntityID() int64 { return m.ID }
func (m *Membership) SetEntityID(id int64) { m.ID = id }
