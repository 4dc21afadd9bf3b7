package schedulersvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/user"
	logsvc "github.com/trezcool/masomo-bulletins/services/logger"
	testutil "github.com/trezcool/masomo-bulletins/tests"
)

type finderMock struct {
	filter  *bulletin.QueryFilter
	pending []bulletin.Bulletin
}

func (f *finderMock) Query(_ context.Context, filter *bulletin.QueryFilter, _ []core.DBOrdering) ([]bulletin.Bulletin, error) {
	f.filter = filter
	return f.pending, nil
}

type runnerMock struct {
	calls chan bulletin.BulkRequest
	actor user.User
}

func (r *runnerMock) Run(_ context.Context, actor user.User, req bulletin.BulkRequest) (bulletin.BulkResult, error) {
	r.actor = actor
	r.calls <- req
	return bulletin.BulkResult{Action: req.Action, Succeeded: len(req.IDs)}, nil
}

func TestRetryJob_Run(t *testing.T) {
	finder := &finderMock{pending: []bulletin.Bulletin{{ID: "b1"}, {ID: "b2"}}}
	runner := &runnerMock{calls: make(chan bulletin.BulkRequest, 1)}
	job := NewRetryJob(finder, runner, time.Second, logsvc.NewNopLogger())

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)

	req := <-runner.calls
	assert.Equal(t, bulletin.ActionSend, req.Action)
	assert.Equal(t, []string{"b1", "b2"}, req.IDs)
	assert.True(t, runner.actor.IsDirector())

	assert.Equal(t, []string{"approved"}, finder.filter.Statuses)
	if assert.NotNil(t, finder.filter.Signed) {
		assert.True(t, *finder.filter.Signed)
	}
	if assert.NotNil(t, finder.filter.SendFailed) {
		assert.True(t, *finder.filter.SendFailed)
	}
}

func TestRetryJob_OnlyFailedSends(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()
	testutil.SeedClass(t, f.Roster, grade.Class{ID: "c1", Name: "6A"}, testutil.Students(2)...)
	math := testutil.CreateSubject(t, f.Subjects, "c1", "MATH", "Mathematics", "4", "t-math")
	signedOnly := testutil.StudentTerm("s1", "c1", grade.TermT1)
	failed := testutil.StudentTerm("s2", "c1", grade.TermT1)
	f.Grade(t, signedOnly, math.ID, "12", "14")
	f.Grade(t, failed, math.ID, "10", "11")
	b1 := f.Approved(t, signedOnly)
	b2 := f.Approved(t, failed)

	res, err := f.Coordinator.Run(ctx, testutil.Director(), bulletin.BulkRequest{IDs: []string{b1.ID}, Action: bulletin.ActionSign})
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)

	f.Dispatcher.Fail(b2.ID, true)
	res, err = f.Coordinator.Run(ctx, testutil.Director(), bulletin.BulkRequest{IDs: []string{b2.ID}, Action: bulletin.ActionSend})
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	f.Dispatcher.Fail(b2.ID, false)

	job := NewRetryJob(f.Bulletins, f.Coordinator, time.Second, logsvc.NewNopLogger())
	res, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	if assert.Len(t, res.Details, 1) {
		assert.Equal(t, b2.ID, res.Details[0].ID)
	}

	got, err := f.Bulletins.Get(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, bulletin.StatusApproved, got.Status, "signing alone never sends")
	assert.Zero(t, f.Dispatcher.Count(b1.ID))

	got, err = f.Bulletins.Get(ctx, b2.ID)
	require.NoError(t, err)
	assert.Equal(t, bulletin.StatusSent, got.Status)
	assert.Nil(t, got.SendFailure)
	assert.Equal(t, 1, f.Dispatcher.Count(b2.ID))

	res, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded, "nothing left to retry")
}

func TestRetryJob_NothingPending(t *testing.T) {
	runner := &runnerMock{calls: make(chan bulletin.BulkRequest, 1)}
	job := NewRetryJob(&finderMock{}, runner, time.Second, logsvc.NewNopLogger())

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)
	assert.Len(t, runner.calls, 0)
}

func TestScheduler(t *testing.T) {
	defer goleak.VerifyNone(t)

	finder := &finderMock{pending: []bulletin.Bulletin{{ID: "b1"}}}
	runner := &runnerMock{calls: make(chan bulletin.BulkRequest, 8)}
	job := NewRetryJob(finder, runner, time.Second, logsvc.NewNopLogger())

	_, err := New("every minute", job, logsvc.NewNopLogger())
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))

	s, err := New("@every 1s", job, logsvc.NewNopLogger())
	require.NoError(t, err)
	s.Start()

	select {
	case req := <-runner.calls:
		assert.Equal(t, []string{"b1"}, req.IDs)
	case <-time.After(5 * time.Second):
		t.Fatal("retry job never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
