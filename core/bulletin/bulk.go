package bulletin

import (
	"context"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/user"
)

// Outcomes of a bulk item
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeFailed      = "failed"
	OutcomeSkipped     = "skipped"
	OutcomeInterrupted = "interrupted"
)

type (
	BulkRequest struct {
		IDs      []string `json:"bulletin_ids" validate:"required,min=1,dive,required,notblank"`
		Action   Action   `json:"action" validate:"required,oneof=sign send"`
		Channels []string `json:"channels" validate:"dive,oneof=mail sms chat"`
		Language string   `json:"language" validate:"omitempty,oneof=en fr"`
	}

	ItemResult struct {
		ID      string `json:"id"`
		Outcome string `json:"outcome"`
		Error   string `json:"error,omitempty"`
		Code    string `json:"code,omitempty"`
	}

	// BulkResult is the mixed outcome of a batch; failures do not fail the batch.
	BulkResult struct {
		Action      Action       `json:"action"`
		Succeeded   int          `json:"succeeded"`
		Failed      int          `json:"failed"`
		Skipped     int          `json:"skipped"`
		Interrupted int          `json:"interrupted"`
		Details     []ItemResult `json:"details"`
	}

	// StudentDirectory finds the guardians to notify.
	StudentDirectory interface {
		GetStudent(ctx context.Context, id string) (grade.Student, error)
	}

	// Coordinator applies sign or send to a set of bulletins, each one independently.
	Coordinator struct {
		svc         *Service
		dispatcher  Dispatcher
		students    StudentDirectory
		channels    []Channel
		concurrency int
		itemTimeout time.Duration
		validate    *validator.Validate
		translator  ut.Translator
		logger      core.Logger
	}
)

func (r BulkResult) HasFailures() bool { return r.Failed > 0 || r.Interrupted > 0 }

// Code is the stable code of the batch outcome, empty when every item succeeded or was skipped.
func (r BulkResult) Code() string {
	if r.HasFailures() {
		return core.CodePartialBatchFailure
	}
	return ""
}

func NewCoordinator(
	svc *Service,
	dispatcher Dispatcher,
	students StudentDirectory,
	conf core.BulkConfig,
	notifyConf core.NotifyConfig,
	validate *validator.Validate,
	translator ut.Translator,
	logger core.Logger,
) *Coordinator {
	concurrency := conf.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	var channels []Channel
	for _, c := range notifyConf.Channels {
		if ch, ok := ParseChannel(c); ok {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		channels = []Channel{ChannelMail}
	}
	return &Coordinator{
		svc:         svc,
		dispatcher:  dispatcher,
		students:    students,
		channels:    channels,
		concurrency: concurrency,
		itemTimeout: conf.ItemTimeout,
		validate:    validate,
		translator:  translator,
		logger:      logger,
	}
}

// Run processes every id of the request concurrently. Items not started when ctx is done
// are reported as interrupted; finished items keep their state.
func (c *Coordinator) Run(ctx context.Context, actor user.User, req BulkRequest) (BulkResult, error) {
	if !actor.IsDirector() {
		return BulkResult{}, core.ErrForbidden
	}
	if err := c.validate.Struct(req); err != nil {
		return BulkResult{}, core.ValidationErrors(err, c.translator)
	}
	channels := c.channels
	if len(req.Channels) > 0 {
		channels = channels[:0:0]
		for _, ch := range req.Channels {
			channels = append(channels, Channel(ch))
		}
	}

	details := make([]ItemResult, len(req.IDs))
	seen := make(map[string]bool, len(req.IDs))
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for i, id := range req.IDs {
		i, id := i, core.CleanString(id)
		if seen[id] {
			details[i] = ItemResult{ID: id, Outcome: OutcomeSkipped, Error: "duplicate in batch"}
			continue
		}
		seen[id] = true

		if ctx.Err() != nil {
			details[i] = interrupted(id, ctx.Err())
			continue
		}
		g.Go(func() error {
			details[i] = c.process(ctx, actor, req, channels, id)
			return nil
		})
	}
	_ = g.Wait()

	res := BulkResult{Action: req.Action, Details: details}
	for _, d := range details {
		switch d.Outcome {
		case OutcomeSucceeded:
			res.Succeeded++
		case OutcomeFailed:
			res.Failed++
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeInterrupted:
			res.Interrupted++
		}
	}

	c.logger.Info("bulk "+string(req.Action)+" done", map[string]interface{}{
		"succeeded": res.Succeeded, "failed": res.Failed, "skipped": res.Skipped, "interrupted": res.Interrupted,
	}, actor)
	return res, nil
}

func (c *Coordinator) process(ctx context.Context, actor user.User, req BulkRequest, channels []Channel, id string) ItemResult {
	if err := ctx.Err(); err != nil {
		return interrupted(id, err)
	}
	if c.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.itemTimeout)
		defer cancel()
	}

	var err error
	var skipped bool
	switch req.Action {
	case ActionSign:
		_, err = c.sign(ctx, actor, id)
	case ActionSend:
		skipped, err = c.send(ctx, actor, id, channels, req.Language)
	default:
		err = core.NewValidationError(nil, core.FieldError{Field: "action", Error: "unknown action"})
	}

	switch {
	case err == nil && skipped:
		return ItemResult{ID: id, Outcome: OutcomeSkipped, Error: "already sent"}
	case err == nil:
		return ItemResult{ID: id, Outcome: OutcomeSucceeded}
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return interrupted(id, err)
	}
	if core.CodeOf(err) == core.CodeInternal {
		c.logger.Error("bulk "+string(req.Action)+" failed", err, map[string]interface{}{"bulletin_id": id}, actor)
	}
	return ItemResult{ID: id, Outcome: OutcomeFailed, Error: err.Error(), Code: core.CodeOf(err)}
}

func (c *Coordinator) sign(ctx context.Context, actor user.User, id string) (Bulletin, error) {
	b, err := c.svc.repo.GetBulletin(ctx, id)
	if err != nil {
		return b, errors.Wrap(err, "getting bulletin")
	}
	return c.svc.sign(ctx, actor, b)
}

// send signs, renders, dispatches once then marks the bulletin sent.
// A failure leaves the bulletin at the last reached stage (approved, signed, rendered) so it can be retried.
func (c *Coordinator) send(ctx context.Context, actor user.User, id string, channels []Channel, language string) (skipped bool, err error) {
	b, err := c.svc.repo.GetBulletin(ctx, id)
	if err != nil {
		return false, errors.Wrap(err, "getting bulletin")
	}
	if b.Status == StatusSent {
		return true, nil
	}

	if b, err = c.svc.sign(ctx, actor, b); err != nil {
		return false, err
	}
	if b.Document == nil {
		rendered, err := c.svc.render(ctx, b, language)
		if err != nil {
			return false, c.sendFailed(ctx, b, err)
		}
		b = rendered
	}

	student, err := c.students.GetStudent(ctx, b.StudentID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return false, errors.Wrap(err, "getting student")
	}
	report, err := c.dispatcher.Dispatch(ctx, NewNotice(b, student), channels)
	if err != nil {
		return false, c.sendFailed(ctx, b, core.NewDownstreamError("notification dispatcher", err))
	}

	// the notice is out: do not let a cancellation leave the bulletin half-sent
	if _, err = c.svc.markSent(context.WithoutCancel(ctx), actor, b, report); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			if cur, gErr := c.svc.repo.GetBulletin(ctx, id); gErr == nil && cur.Status == StatusSent {
				return true, nil
			}
		}
		return false, err
	}
	return false, nil
}

// sendFailed marks b for the retry job when a downstream collaborator failed; cancellations are not marked.
func (c *Coordinator) sendFailed(ctx context.Context, b Bulletin, err error) error {
	if ctx.Err() != nil || !errors.Is(err, core.ErrDownstreamUnavailable) {
		return err
	}
	if _, rErr := c.svc.recordSendFailure(ctx, b, err); rErr != nil {
		c.logger.Warn("bulk send: could not record the failure", rErr, map[string]interface{}{"bulletin_id": b.ID})
	}
	return err
}

func interrupted(id string, err error) ItemResult {
	return ItemResult{ID: id, Outcome: OutcomeInterrupted, Error: err.Error(), Code: core.CodeInterrupted}
}
