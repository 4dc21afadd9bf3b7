package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
	sqlxrepos "github.com/trezcool/masomo-bulletins/storage/database/sqlx"
	testutil "github.com/trezcool/masomo-bulletins/tests"
)

func TestLedger(t *testing.T) {
	db := testutil.PrepareDB(t)
	ctx := context.Background()
	roster := sqlxrepos.NewRoster(db)
	subjects := sqlxrepos.NewSubjectRepository(db)
	grades := sqlxrepos.NewGradeRepository(db)

	testutil.SeedClass(t, roster, grade.Class{ID: "6A", Name: "6e A"}, testutil.Students(2)...)
	ids, err := roster.Enrolled(ctx, "6A", testutil.Year)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	math := testutil.CreateSubject(t, subjects, "6A", "MATH", "Mathématiques", "4", "")
	st := testutil.StudentTerm("s1", "6A", grade.TermT1)
	key := grade.Key{StudentID: "s1", SubjectID: math.ID, ClassID: "6A", AcademicYear: testutil.Year, Term: grade.TermT1}

	_, err = grades.UpsertComponent(ctx, grade.Component{
		Key: key, ContinuousScore: testutil.DecPtr("12.5"), Coefficient: math.Coefficient,
		UpdatedBy: "t1", UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = grades.UpsertComponent(ctx, grade.Component{
		Key: key, ContinuousScore: testutil.DecPtr("12.5"), ExamScore: testutil.DecPtr("15"), Coefficient: math.Coefficient,
		UpdatedBy: "t1", UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	snap, err := grades.Snapshot(ctx, st)
	require.NoError(t, err)
	assert.EqualValues(t, 2, snap.Revision)
	if assert.Len(t, snap.Components, 1) {
		c := snap.Components[0]
		assert.True(t, c.ExamScore.Equal(testutil.Dec("15")))
		assert.True(t, c.Coefficient.Equal(testutil.Dec("4")))
	}

	_, err = grades.GetComponent(ctx, grade.Key{StudentID: "s2", SubjectID: math.ID, ClassID: "6A", AcademicYear: testutil.Year, Term: grade.TermT1})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestBulletins(t *testing.T) {
	db := testutil.PrepareDB(t)
	ctx := context.Background()
	repo := sqlxrepos.NewBulletinRepository(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	st := testutil.StudentTerm("s1", "6A", grade.TermT1)
	b, err := repo.CreateBulletin(ctx, bulletin.Bulletin{
		StudentTerm: st,
		Status:      bulletin.StatusSubmitted,
		TermAverage: testutil.Dec("14.25"),
		ClassRank:   2,
		ClassSize:   30,
		CreatedBy:   "dir-1",
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.NoError(t, err)

	_, err = repo.CreateBulletin(ctx, bulletin.Bulletin{StudentTerm: st, Status: bulletin.StatusDraft, CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, bulletin.ErrKeyExists)

	got, err := repo.GetBulletinByKey(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.True(t, got.TermAverage.Equal(testutil.Dec("14.25")))

	assert.EqualValues(t, 1, got.Version)

	next := got
	next.Status = bulletin.StatusApproved
	next.UpdatedAt = now.Add(time.Minute)
	approved, err := repo.TransitionBulletin(ctx, next, bulletin.StatusSubmitted)
	require.NoError(t, err)
	assert.EqualValues(t, 2, approved.Version)
	_, err = repo.TransitionBulletin(ctx, next, bulletin.StatusSubmitted)
	assert.ErrorIs(t, err, bulletin.ErrStatusChanged)

	marked := approved
	marked.SendFailure = &bulletin.SendFailure{At: now, Error: "gateway down", Code: core.CodeDownstreamUnavailable}
	_, err = repo.TransitionBulletin(ctx, marked, bulletin.StatusApproved)
	require.NoError(t, err)
	_, err = repo.TransitionBulletin(ctx, approved, bulletin.StatusApproved)
	assert.ErrorIs(t, err, bulletin.ErrStatusChanged, "same status, older version")

	failed := true
	pending, err := repo.QueryBulletins(ctx, &bulletin.QueryFilter{SendFailed: &failed}, nil)
	require.NoError(t, err)
	if assert.Len(t, pending, 1) {
		assert.EqualValues(t, 3, pending[0].Version)
		assert.Equal(t, "gateway down", pending[0].SendFailure.Error)
	}

	found, err := repo.QueryBulletins(ctx, &bulletin.QueryFilter{Statuses: []string{string(bulletin.StatusApproved)}}, nil)
	require.NoError(t, err)
	if assert.Len(t, found, 1) {
		assert.Equal(t, b.ID, found[0].ID)
	}

	_, err = repo.GetBulletin(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
