package inmemdb_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
	inmemdb "github.com/trezcool/masomo-bulletins/storage/database/inmem"
	testutil "github.com/trezcool/masomo-bulletins/tests"
)

func TestBulletinRepository(t *testing.T) {
	ctx := context.Background()
	repo := inmemdb.NewBulletinRepository(inmemdb.Open())
	st := testutil.StudentTerm("s1", "c1", grade.TermT1)

	b, err := repo.CreateBulletin(ctx, bulletin.Bulletin{StudentTerm: st, Status: bulletin.StatusSubmitted, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)

	_, err = repo.CreateBulletin(ctx, bulletin.Bulletin{StudentTerm: st, Status: bulletin.StatusDraft})
	assert.ErrorIs(t, err, bulletin.ErrKeyExists)

	byKey, err := repo.GetBulletinByKey(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, b.ID, byKey.ID)

	_, err = repo.GetBulletin(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)

	t.Run("compare and swap", func(t *testing.T) {
		var wg sync.WaitGroup
		var won, lost int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next := b
				next.Status = bulletin.StatusApproved
				if _, err := repo.TransitionBulletin(ctx, next, bulletin.StatusSubmitted); err != nil {
					assert.ErrorIs(t, err, bulletin.ErrStatusChanged)
					atomic.AddInt32(&lost, 1)
					return
				}
				atomic.AddInt32(&won, 1)
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, won)
		assert.EqualValues(t, 9, lost)
	})

	t.Run("a write from a stale copy loses", func(t *testing.T) {
		cur, err := repo.GetBulletin(ctx, b.ID)
		require.NoError(t, err)

		first := cur
		first.SendFailure = &bulletin.SendFailure{At: time.Now().UTC(), Error: "gateway down", Code: core.CodeDownstreamUnavailable}
		stored, err := repo.TransitionBulletin(ctx, first, cur.Status)
		require.NoError(t, err)
		assert.Equal(t, cur.Version+1, stored.Version)

		_, err = repo.TransitionBulletin(ctx, cur, cur.Status)
		assert.ErrorIs(t, err, bulletin.ErrStatusChanged, "same status, older version")

		failed := true
		found, err := repo.QueryBulletins(ctx, &bulletin.QueryFilter{SendFailed: &failed}, nil)
		require.NoError(t, err)
		if assert.Len(t, found, 1) {
			assert.Equal(t, "gateway down", found[0].SendFailure.Error)
		}
	})

	t.Run("stored copies are isolated", func(t *testing.T) {
		got, err := repo.GetBulletin(ctx, b.ID)
		require.NoError(t, err)
		got.History = append(got.History, bulletin.Transition{Action: bulletin.ActionSend})
		again, err := repo.GetBulletin(ctx, b.ID)
		require.NoError(t, err)
		assert.Len(t, again.History, 0)
	})
}

func TestGradeRepository_Snapshot(t *testing.T) {
	ctx := context.Background()
	db := inmemdb.Open()
	repo := inmemdb.NewGradeRepository(db)
	st := testutil.StudentTerm("s1", "c1", grade.TermT1)

	for _, sub := range []string{"math", "bio"} {
		_, err := repo.UpsertComponent(ctx, grade.Component{
			Key:         grade.Key{StudentID: "s1", ClassID: "c1", AcademicYear: testutil.Year, Term: grade.TermT1, SubjectID: sub},
			ExamScore:   testutil.DecPtr("10"),
			Coefficient: testutil.Dec("1"),
		})
		require.NoError(t, err)
	}
	snap, err := repo.Snapshot(ctx, st)
	require.NoError(t, err)
	assert.EqualValues(t, 2, snap.Revision)
	if assert.Len(t, snap.Components, 2) {
		assert.Equal(t, "bio", snap.Components[0].SubjectID)
	}

	other, err := repo.Snapshot(ctx, st.WithTerm(grade.TermT2))
	require.NoError(t, err)
	assert.Zero(t, other.Revision)
	assert.Empty(t, other.Components)

	db.Reset()
	snap, err = repo.Snapshot(ctx, st)
	require.NoError(t, err)
	assert.Empty(t, snap.Components)
}
