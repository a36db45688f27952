// Package contacts is the contact import profile. Each row creates or
// updates one contact; the company, tags, interests and lists columns
// reference auxiliary entities by name, which are created when missing.
//
// Run order:
//
//  1. companies, tags and interests are created (tags and interests share
//     one to-create list, so a name used in both columns is created once)
//  2. contacts are created, or updated when their email already exists
//  3. mailing lists are created, then memberships for every stored contact
package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/rowimport/internal/core"
	"github.com/JonMunkholm/rowimport/internal/importer"
	"github.com/JonMunkholm/rowimport/internal/rows"
	"github.com/JonMunkholm/rowimport/internal/store"
)

// Key is the registry key of the profile.
const Key = "contacts"

// Columns accepted in the header.
const (
	ColEmail     = "email"
	ColFirstName = "first_name"
	ColLastName  = "last_name"
	ColPhone     = "phone"
	ColCompany   = "company"
	ColTags      = "tags"
	ColInterests = "interests"
	ColLists     = "lists"
)

// DefaultDelimiter separates names in the tags, interests and lists columns.
const DefaultDelimiter = ";"

// Info describes the profile.
var Info = core.ProfileInfo{
	Key:         Key,
	Label:       "Contacts",
	Description: "Contacts with company, tags, interests and mailing lists resolved by name",
	Columns:     []string{ColEmail, ColFirstName, ColLastName, ColPhone, ColCompany, ColTags, ColInterests, ColLists},
	Required:    []string{ColEmail},
}

func init() {
	core.Register(core.ProfileDefinition{Info: Info, Build: Build})
}

// Backend is the storage the profile reads lookups from and commits to.
// Satisfied by *store.Store.
type Backend interface {
	Companies(ctx context.Context) ([]store.Company, error)
	Tags(ctx context.Context) ([]store.Named, error)
	Lists(ctx context.Context) ([]store.Named, error)
	ContactEmails(ctx context.Context) ([]store.ContactRef, error)

	InsertCompanies(ctx context.Context, companies []store.Company) ([]int64, error)
	InsertTags(ctx context.Context, names []string) ([]int64, error)
	InsertLists(ctx context.Context, names []string) ([]int64, error)
	InsertContacts(ctx context.Context, contacts []store.ContactParams) ([]int64, error)
	UpdateContacts(ctx context.Context, contacts []store.ContactParams) error
	InsertListMembers(ctx context.Context, members []store.ListMemberParams) ([]int64, error)
}

// Options tune a run.
type Options struct {
	ChunkSize int
	Delimiter string
	// UpdateExisting updates contacts whose email is already stored. When
	// false such rows are reported as duplicates and skipped.
	UpdateExisting bool
}

// Build creates a plan from registry dependencies.
func Build(deps core.Deps) (core.Plan, error) {
	if deps.Store == nil {
		return nil, errors.New("contacts: store is required")
	}
	opts := Options{
		ChunkSize:      deps.ChunkSize,
		Delimiter:      deps.Delimiter,
		UpdateExisting: deps.Options["update_existing"] != "false",
	}
	return New(deps.Store, opts, deps.Logger)
}

// Import is one run of the contacts profile.
type Import struct {
	backend  Backend
	opts     Options
	validate *validator.Validate
	logger   *slog.Logger

	shared    *importer.SharedContext
	orch      *importer.Orchestrator[*Contact]
	companies *importer.BeforeHandler[*Contact, *Company]
	tags      *importer.BeforeHandler[*Contact, *Tag]
	interests *importer.BeforeHandler[*Contact, *Tag]
	contacts  *importer.MainHandler[*Contact]
	lists     *importer.AfterHandler[*Contact, *List]
	members   *importer.AdditionalHandler[*Contact, *Membership]

	// preloaded lookups keyed by nameKey
	companyIdx map[string]*Company
	tagIdx     map[string]*Tag
	listIdx    map[string]*List
	emailIdx   map[string]int64
}

// New wires the handlers of a run.
func New(backend Backend, opts Options, logger *slog.Logger) (*Import, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Delimiter == "" {
		opts.Delimiter = DefaultDelimiter
	}

	im := &Import{
		backend:    backend,
		opts:       opts,
		validate:   newValidator(),
		logger:     logger.With("profile", Key),
		shared:     importer.NewSharedContext(),
		companyIdx: make(map[string]*Company),
		tagIdx:     make(map[string]*Tag),
		listIdx:    make(map[string]*List),
		emailIdx:   make(map[string]int64),
	}
	if err := im.wire(); err != nil {
		return nil, fmt.Errorf("contacts: %w", err)
	}
	return im, nil
}

func (im *Import) wire() error {
	var err error

	im.companies, err = importer.NewBeforeHandler(importer.SideConfig[*Contact, *Company]{
		Name:        "companies",
		Label:       noun("Company", "Companies"),
		VerboseName: importer.Literal("Company"),
		Property: importer.Property[*Contact]{
			Key: "company_id",
			Get: func(c *Contact) string { return c.Company },
			Set: func(c *Contact, ids []int64) { c.CompanyID = ids[0] },
		},
		Find:         findIn(im.companyIdx),
		NewModel:     func(name string) *Company { return &Company{Name: name} },
		Create:       commitWith(im.backend.InsertCompanies, func(c *Company) store.Company { return store.Company{Name: c.Name, Domain: c.Domain} }),
		ShouldCreate: func(pseudo *importer.Mapping[*Company], _ []*importer.ImportModel[*Contact]) bool { return !placeholder(pseudo.Name) },
		OnQueue: func(pseudo *importer.Mapping[*Company], row *importer.ImportModel[*Contact], _ *importer.ImportContext[*importer.ImportModel[*Contact]]) {
			pseudo.Model.Domain = row.Model.Domain()
		},
		ChunkSize: im.opts.ChunkSize,
		Logger:    im.logger,
	})
	if err != nil {
		return err
	}

	tagConfig := func(name, key string, label importer.Label, get func(*Contact) string, set func(*Contact, []int64)) importer.SideConfig[*Contact, *Tag] {
		return importer.SideConfig[*Contact, *Tag]{
			Name:      name,
			Label:     label,
			Property:  importer.Property[*Contact]{Key: key, Delimiter: im.opts.Delimiter, Get: get, Set: set},
			Find:      findIn(im.tagIdx),
			NewModel:  func(name string) *Tag { return &Tag{Name: name} },
			Create:    commitWith(im.backend.InsertTags, func(t *Tag) string { return t.Name }),
			Kind:      "tag",
			Shared:    im.shared,
			ChunkSize: im.opts.ChunkSize,
			Logger:    im.logger,
		}
	}

	im.tags, err = importer.NewBeforeHandler(tagConfig("tags", "tag_ids", noun("Tag", "Tags"),
		func(c *Contact) string { return c.Tags },
		func(c *Contact, ids []int64) { c.TagIDs = ids },
	))
	if err != nil {
		return err
	}

	im.interests, err = importer.NewBeforeHandler(tagConfig("interests", "interest_ids", noun("Interest", "Interests"),
		func(c *Contact) string { return c.Interests },
		func(c *Contact, ids []int64) { c.InterestIDs = ids },
	))
	if err != nil {
		return err
	}

	im.contacts, err = importer.NewMainHandler(importer.MainConfig[*Contact]{
		Name:      "contacts",
		Label:     noun("Contact", "Contacts"),
		Create:    commitWith(im.backend.InsertContacts, (*Contact).params),
		Update:    im.updateContacts,
		ChunkSize: im.opts.ChunkSize,
		ShouldImport: func(row *importer.ImportModel[*Contact]) bool {
			return !row.HasDuplicates && !row.Model.badEmail
		},
		Logger: im.logger,
	})
	if err != nil {
		return err
	}

	im.lists, err = importer.NewAfterHandler(importer.SideConfig[*Contact, *List]{
		Name:        "lists",
		Label:       noun("Mailing list", "Mailing lists"),
		VerboseName: importer.Literal("Mailing list"),
		Property: importer.Property[*Contact]{
			Key:       "list_ids",
			Delimiter: im.opts.Delimiter,
			Get:       func(c *Contact) string { return c.Lists },
			Set:       func(c *Contact, ids []int64) { c.ListIDs = ids },
		},
		Find:      findIn(im.listIdx),
		NewModel:  func(name string) *List { return &List{Name: name} },
		Create:    commitWith(im.backend.InsertLists, func(l *List) string { return l.Name }),
		ChunkSize: im.opts.ChunkSize,
		Logger:    im.logger,
	})
	if err != nil {
		return err
	}

	im.members, err = importer.NewAdditionalHandler(importer.AdditionalConfig[*Contact, *Membership]{
		Name:  "memberships",
		Label: noun("Membership", "Memberships"),
		Build: func(row *importer.ImportModel[*Contact]) []*Membership {
			ids := im.lists.ResolvedIDs(row)
			row.Model.ListIDs = ids
			out := make([]*Membership, len(ids))
			for i, id := range ids {
				out[i] = &Membership{ContactID: row.Model.ID, ListID: id}
			}
			return out
		},
		Create: commitWith(im.backend.InsertListMembers, func(m *Membership) store.ListMemberParams {
			return store.ListMemberParams{ContactID: m.ContactID, ListID: m.ListID}
		}),
		ChunkSize: im.opts.ChunkSize,
		Logger:    im.logger,
	})
	if err != nil {
		return err
	}
	im.lists.AddAdditional(im.members)

	im.orch = importer.NewOrchestrator[*Contact](im.shared, im.logger)
	im.orch.AddBefore(im.companies, im.tags, im.interests)
	im.orch.AddMain(im.contacts)
	im.orch.AddAfter(im.lists)
	return nil
}

// Load preloads companies, tags, lists and contact emails.
func (im *Import) Load(ctx context.Context) error {
	companies, err := im.backend.Companies(ctx)
	if err != nil {
		return err
	}
	for _, c := range companies {
		im.companyIdx[nameKey(c.Name)] = &Company{ID: c.ID, Name: c.Name, Domain: c.Domain}
	}

	tags, err := im.backend.Tags(ctx)
	if err != nil {
		return err
	}
	for _, t := range tags {
		im.tagIdx[nameKey(t.Name)] = &Tag{ID: t.ID, Name: t.Name}
	}

	lists, err := im.backend.Lists(ctx)
	if err != nil {
		return err
	}
	for _, l := range lists {
		im.listIdx[nameKey(l.Name)] = &List{ID: l.ID, Name: l.Name}
	}

	emails, err := im.backend.ContactEmails(ctx)
	if err != nil {
		return err
	}
	for _, e := range emails {
		im.emailIdx[strings.ToLower(e.Email)] = e.ID
	}

	im.logger.Debug("lookups loaded",
		"companies", len(companies),
		"tags", len(tags),
		"lists", len(lists),
		"contacts", len(emails),
	)
	return nil
}

// Prepare builds one contact per record, validates it, flags duplicates
// and collects the names it references.
func (im *Import) Prepare(table *rows.Table) error {
	if err := table.Require(Info.Required...); err != nil {
		return err
	}

	raw := make([]importer.RawImportModel[*Contact], len(table.Records))
	for i, rec := range table.Records {
		c := &Contact{
			Email:     table.Cell(rec, ColEmail),
			FirstName: table.Cell(rec, ColFirstName),
			LastName:  table.Cell(rec, ColLastName),
			Phone:     table.Cell(rec, ColPhone),
			Company:   table.Cell(rec, ColCompany),
			Tags:      table.Cell(rec, ColTags),
			Interests: table.Cell(rec, ColInterests),
			Lists:     table.Cell(rec, ColLists),
		}
		c.Normalize()
		raw[i] = importer.RawImportModel[*Contact]{ID: rec.Line, Model: c}
	}

	models := importer.NewImportModels(raw)
	seen := make(map[string]*importer.ImportModel[*Contact], len(models))
	for _, row := range models {
		err := im.validate.Struct(row.Model)
		for _, msg := range validationMessages(err) {
			row.AddError(msg)
		}
		// other field errors stay on the row but do not hold it back
		if failsOn(err, ColEmail) {
			row.Model.badEmail = true
			continue
		}
		im.matchExisting(row)

		email := row.Model.Email
		if first, ok := seen[email]; ok {
			row.MarkDuplicates(first.Model)
			continue
		}
		seen[email] = row
	}

	im.orch.Prepare(models)
	return nil
}

// matchExisting links a row to the stored contact with the same email.
func (im *Import) matchExisting(row *importer.ImportModel[*Contact]) {
	id, ok := im.emailIdx[row.Model.Email]
	if !ok {
		return
	}
	if im.opts.UpdateExisting {
		row.Model.ID = id
		return
	}
	row.MarkDuplicates(&Contact{ID: id, Email: row.Model.Email})
}

func (im *Import) Run(ctx context.Context) error { return im.orch.Run(ctx) }
func (im *Import) Observe(fn func(importer.Event)) { im.orch.Observe(fn) }
func (im *Import) Summary() importer.Summary { return im.orch.Summary() }
func (im *Import) Rows() []*importer.ImportModel[*Contact] { return im.orch.Rows() }

// Cleanup resets every handler so the plan can prepare new input.
func (im *Import) Cleanup() { im.orch.Cleanup() }

// Outcomes reports every row in input order.
func (im *Import) Outcomes() []core.RowOutcome {
	out := make([]core.RowOutcome, 0, len(im.orch.Rows()))
	for _, row := range im.orch.Rows() {
		out = append(out, core.RowOutcome{
			Line:   row.ID,
			Key:    row.Model.Email,
			ID:     row.Model.ID,
			Status: row.Status,
			Errors: row.Errors,
		})
	}
	return out
}

func (im *Import) updateContacts(ctx context.Context, cs []*Contact) ([]importer.Identifiable, error) {
	params := make([]store.ContactParams, len(cs))
	for i, c := range cs {
		params[i] = c.params()
	}
	return nil, im.backend.UpdateContacts(ctx, params)
}

// commitWith adapts a store insert to a commit function.
func commitWith[C any, P any](insert func(context.Context, []P) ([]int64, error), conv func(C) P) importer.CommitFunc[C] {
	return func(ctx context.Context, records []C) ([]importer.Identifiable, error) {
		params := make([]P, len(records))
		for i, r := range records {
			params[i] = conv(r)
		}
		ids, err := insert(ctx, params)
		if err != nil {
			return nil, err
		}
		out := make([]importer.Identifiable, len(ids))
		for i, id := range ids {
			out[i] = importer.Identifiable{ID: id}
		}
		return out, nil
	}
}

// findIn looks names up in a preloaded index.
func findIn[S importer.SideEntity](idx map[string]S) importer.FindFunc[*Contact, S] {
	return func(name string, _ *Contact) (S, bool) {
		s, ok := idx[nameKey(name)]
		return s, ok
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// placeholder reports names that stand for "no value".
func placeholder(name string) bool {
	switch nameKey(name) {
	case "-", "n/a", "na", "none", "null", "unknown":
		return true
	}
	return false
}

func noun(singular, plural string) importer.Label {
	return importer.Derived(func(_ importer.StepPhase, many bool) string {
		if many {
			return plural
		}
		return singular
	})
}
