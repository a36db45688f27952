package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	orch    *Orchestrator[*person]
	tags    *BeforeHandler[*person, *tag]
	main    *MainHandler[*person]
	teams   *AfterHandler[*person, *tag]
	members *AdditionalHandler[*person, *membership]

	log      *[]string
	memberDB *sequence[*membership]
}

func newFixture(t *testing.T, teamCreate CommitFunc[*tag]) fixture {
	t.Helper()
	var log []string
	record := func(step string, inner CommitFunc[*tag]) CommitFunc[*tag] {
		return func(ctx context.Context, rs []*tag) ([]Identifiable, error) {
			log = append(log, step)
			return inner(ctx, rs)
		}
	}

	tagDB := &sequence[*tag]{next: 20}
	tags, err := NewBeforeHandler(SideConfig[*person, *tag]{
		Name:     "tags",
		Property: tagsProperty(),
		Find:     tagIndex{}.find,
		NewModel: newTag,
		Create:   record("tags", tagDB.commit),
	})
	require.NoError(t, err)

	peopleDB := &sequence[*person]{next: 1}
	main, err := NewMainHandler(MainConfig[*person]{
		Name: "people",
		Create: func(ctx context.Context, rs []*person) ([]Identifiable, error) {
			log = append(log, "people")
			return peopleDB.commit(ctx, rs)
		},
	})
	require.NoError(t, err)

	teams, err := NewAfterHandler(SideConfig[*person, *tag]{
		Name:     "teams",
		Property: teamProperty(),
		Find:     tagIndex{}.find,
		NewModel: newTag,
		Create:   record("teams", teamCreate),
	})
	require.NoError(t, err)

	memberDB := &sequence[*membership]{next: 500}
	members, err := NewAdditionalHandler(AdditionalConfig[*person, *membership]{
		Name: "team members",
		Build: func(row *ImportModel[*person]) []*membership {
			var out []*membership
			for _, id := range teams.ResolvedIDs(row) {
				out = append(out, &membership{PersonID: row.Model.EntityID(), TagID: id})
			}
			return out
		},
		Create: func(ctx context.Context, rs []*membership) ([]Identifiable, error) {
			log = append(log, "members")
			return memberDB.commit(ctx, rs)
		},
	})
	require.NoError(t, err)
	teams.AddAdditional(members)

	orch := NewOrchestrator[*person](NewSharedContext(), nil)
	orch.AddBefore(tags)
	orch.AddMain(main)
	orch.AddAfter(teams)

	return fixture{orch: orch, tags: tags, main: main, teams: teams, members: members, log: &log, memberDB: memberDB}
}

func TestOrchestrator_Run(t *testing.T) {
	f := newFixture(t, (&sequence[*tag]{next: 90}).commit)

	var events []Event
	f.orch.Observe(func(e Event) { events = append(events, e) })

	rows := people("ann", "bob")
	rows[0].Model.Tags = "a;b"
	rows[0].Model.Team = "red"
	rows[1].Model.Tags = "b"
	f.orch.Prepare(rows)

	require.NoError(t, f.orch.Run(context.Background()))

	assert.Equal(t, []string{"tags", "people", "teams", "members"}, *f.log)

	assert.Equal(t, []int64{20, 21}, rows[0].Model.TagIDs)
	assert.Equal(t, []int64{21}, rows[1].Model.TagIDs)
	assert.Equal(t, StatusDone, rows[0].Status)
	assert.Equal(t, StatusDone, rows[1].Status)

	require.Len(t, f.members.ModelsToCreate(), 1)
	m := f.members.ModelsToCreate()[0]
	assert.Equal(t, &membership{id: 500, PersonID: rows[0].Model.id, TagID: 90}, m)

	for _, s := range f.orch.Steps() {
		assert.Equal(t, PhaseFinished, s.Phase(), s.Name())
	}

	sum := f.orch.Summary()
	assert.Equal(t, RowCounts{Total: 2, Done: 2}, sum.Rows)
	require.Len(t, sum.Steps, 4)
	assert.Equal(t, StepSummary{Name: "tags", Description: "tags: done", Phase: PhaseFinished, ToCreate: 2, Imported: 2}, sum.Steps[0])

	assert.NotEmpty(t, events)
	assert.Equal(t, "tags", events[0].Step)
}

func TestOrchestrator_AfterErrorPhase(t *testing.T) {
	f := newFixture(t, (&sequence[*tag]{next: 90}).commit)

	rows := people("ann")
	rows[0].Model.Team = "red"
	f.orch.Prepare(rows)

	// writing the id back onto a missing model panics inside the handler
	queued := f.teams.ModelsToCreate()
	require.Len(t, queued, 1)
	queued[0].Model = nil

	require.NoError(t, f.orch.Run(context.Background()))
	assert.Equal(t, PhaseError, f.teams.Phase())
	assert.Equal(t, StatusDone, rows[0].Status)
	assert.Equal(t, PhaseFinished, f.members.Phase())
}

func TestOrchestrator_SkippedRowsQueueNothing(t *testing.T) {
	f := newFixture(t, (&sequence[*tag]{next: 90}).commit)

	rows := people("ann", "bob")
	rows[0].Model.Tags = "a"
	rows[1].Model.Tags = "a;orphan"
	rows[1].Model.Team = "ghost"
	rows[1].MarkDuplicates(&person{id: 9, Name: "bob"})
	f.orch.Prepare(rows)

	require.Len(t, f.tags.ModelsToCreate(), 1)
	assert.Equal(t, "a", f.tags.ModelsToCreate()[0].Name)
	assert.Empty(t, f.teams.ModelsToCreate())

	require.NoError(t, f.orch.Run(context.Background()))
	assert.NotContains(t, *f.log, "teams")
	assert.Equal(t, StatusDone, rows[0].Status)
	assert.Zero(t, rows[1].Model.id)
	assert.Empty(t, f.memberDB.calls)
}

func TestOrchestrator_MainErrorStopsRun(t *testing.T) {
	f := newFixture(t, (&sequence[*tag]{next: 90}).commit)

	rows := people("ann")
	rows[0].Model.id = 4
	f.orch.Prepare(rows)

	err := f.orch.Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingUpdate)
	assert.Equal(t, PhaseEnqueued, f.teams.Phase())
}

func TestOrchestrator_Cleanup(t *testing.T) {
	f := newFixture(t, (&sequence[*tag]{next: 90}).commit)

	rows := people("ann")
	rows[0].Model.Tags = "a"
	rows[0].Model.Team = "red"
	f.orch.Prepare(rows)
	require.NoError(t, f.orch.Run(context.Background()))

	f.orch.Cleanup()

	assert.Empty(t, f.orch.Rows())
	for _, s := range f.orch.Steps() {
		assert.Equal(t, PhaseEnqueued, s.Phase(), s.Name())
		assert.Zero(t, s.ModelsToCreateAmount(), s.Name())
		assert.Zero(t, s.ModelsImportedAmount(), s.Name())
	}
	assert.Zero(t, f.tags.Unresolved())
}
