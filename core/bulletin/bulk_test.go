package bulletin_test

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
	testutil "github.com/trezcool/masomo-bulletins/tests"
)

// batch prepares one T1 bulletin per student: the first `approved` are approved, the rest submitted.
func batch(t *testing.T, s school, students, approved int) []string {
	ctx := context.Background()
	ids := make([]string, 0, students)
	for i, st := range testutil.Students(students) {
		key := testutil.StudentTerm(st.ID, "c1", grade.TermT1)
		s.Grade(t, key, s.math.ID, "", "12")
		if i < approved {
			ids = append(ids, s.Approved(t, key).ID)
			continue
		}
		b, err := s.Bulletins.Draft(ctx, testutil.Director(), key)
		require.NoError(t, err)
		b, err = s.Bulletins.Submit(ctx, testutil.Director(), b.ID)
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}
	return ids
}

func TestBulkSign_PartialFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newSchool(t, 5)
	ids := batch(t, s, 5, 3)

	res, err := s.Coordinator.Run(context.Background(), testutil.Director(), bulletin.BulkRequest{IDs: ids, Action: bulletin.ActionSign})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, core.CodePartialBatchFailure, res.Code())

	for i, d := range res.Details {
		assert.Equal(t, ids[i], d.ID, "details keep the request order")
		if i < 3 {
			assert.Equal(t, bulletin.OutcomeSucceeded, d.Outcome)
			b, err := s.Bulletins.Get(context.Background(), d.ID)
			require.NoError(t, err)
			assert.Equal(t, bulletin.StatusApproved, b.Status, "signing does not send")
			assert.Nil(t, b.SendFailure)
			continue
		}
		assert.Equal(t, bulletin.OutcomeFailed, d.Outcome)
		assert.Equal(t, core.CodeInvalidTransition, d.Code)

		b, err := s.Bulletins.Get(context.Background(), d.ID)
		require.NoError(t, err)
		assert.Equal(t, bulletin.StatusSubmitted, b.Status, "failed items are left unchanged")
		assert.Nil(t, b.Signature)
	}
}

func TestBulk_Authorization(t *testing.T) {
	s := newSchool(t, 1)
	_, err := s.Coordinator.Run(context.Background(), testutil.Teacher("t-math"), bulletin.BulkRequest{IDs: []string{"x"}, Action: bulletin.ActionSign})
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = s.Coordinator.Run(context.Background(), testutil.Director(), bulletin.BulkRequest{Action: bulletin.ActionApprove})
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}

func TestBulkSend(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newSchool(t, 3)
	ctx := context.Background()
	ids := batch(t, s, 3, 3)
	s.Dispatcher.Fail(ids[2], true)

	// a duplicate id is dispatched once
	req := bulletin.BulkRequest{IDs: append(ids, ids[0]), Action: bulletin.ActionSend}
	res, err := s.Coordinator.Run(ctx, testutil.Director(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, core.CodeDownstreamUnavailable, res.Details[2].Code)
	assert.Equal(t, 1, s.Dispatcher.Count(ids[0]))

	sent, err := s.Bulletins.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, bulletin.StatusSent, sent.Status)
	assert.NotNil(t, sent.Signature, "send signs in the same batch")
	assert.NotNil(t, sent.Document)
	assert.NotNil(t, sent.SentAt)
	assert.Equal(t, 1, sent.Delivery.Delivered())

	failed, err := s.Bulletins.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, bulletin.StatusApproved, failed.Status)
	assert.NotNil(t, failed.Signature, "a downstream failure keeps the signature for the retry")
	if assert.NotNil(t, failed.SendFailure, "a downstream failure is marked for the retry job") {
		assert.Equal(t, core.CodeDownstreamUnavailable, failed.SendFailure.Code)
	}
	assert.Nil(t, sent.SendFailure)

	t.Run("sending again is idempotent", func(t *testing.T) {
		s.Dispatcher.Fail(ids[2], false)
		res, err := s.Coordinator.Run(ctx, testutil.Director(), bulletin.BulkRequest{IDs: ids, Action: bulletin.ActionSend})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Succeeded)
		assert.Equal(t, 2, res.Skipped)
		assert.Empty(t, res.Code())
		for _, id := range ids {
			assert.Equal(t, 1, s.Dispatcher.Count(id), "each bulletin is dispatched once")
		}
		retried, err := s.Bulletins.Get(ctx, ids[2])
		require.NoError(t, err)
		assert.Equal(t, bulletin.StatusSent, retried.Status)
		assert.Nil(t, retried.SendFailure, "a successful send clears the mark")
	})
}

func TestBulkSend_UnsignableIsNotSent(t *testing.T) {
	s := newSchool(t, 2)
	ids := batch(t, s, 2, 1)

	res, err := s.Coordinator.Run(context.Background(), testutil.Director(), bulletin.BulkRequest{IDs: ids, Action: bulletin.ActionSend})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, s.Dispatcher.Count(ids[1]))
}

func TestBulk_Cancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newSchool(t, 6)
	ids := batch(t, s, 6, 6)
	s.Dispatcher.Delay = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := s.Coordinator.Run(ctx, testutil.Director(), bulletin.BulkRequest{IDs: ids, Action: bulletin.ActionSend})
	require.NoError(t, err)
	assert.Equal(t, len(ids), res.Interrupted)
	assert.Equal(t, core.CodePartialBatchFailure, res.Code())

	for _, d := range res.Details {
		assert.Equal(t, bulletin.OutcomeInterrupted, d.Outcome)
		b, err := s.Bulletins.Get(context.Background(), d.ID)
		require.NoError(t, err)
		assert.Equal(t, bulletin.StatusApproved, b.Status, "interrupted items are not half-sent")
	}
}
