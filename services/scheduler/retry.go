package schedulersvc

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/user"
)

// SystemActor runs the scheduled jobs.
var SystemActor = user.User{ID: "system", Name: "Scheduler", Roles: []string{user.RoleAdmin}}

type (
	// Finder lists the bulletins to retry.
	Finder interface {
		Query(ctx context.Context, filter *bulletin.QueryFilter, ordering []core.DBOrdering) ([]bulletin.Bulletin, error)
	}

	// Runner re-runs a bulk action.
	Runner interface {
		Run(ctx context.Context, actor user.User, req bulletin.BulkRequest) (bulletin.BulkResult, error)
	}

	// RetryJob re-sends approved and signed bulletins whose previous send failed downstream.
	// Bulletins that were only signed are left alone: sending stays an explicit action.
	RetryJob struct {
		finder  Finder
		runner  Runner
		timeout time.Duration
		logger  core.Logger
	}
)

func NewRetryJob(finder Finder, runner Runner, timeout time.Duration, logger core.Logger) *RetryJob {
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	return &RetryJob{finder: finder, runner: runner, timeout: timeout, logger: logger}
}

// Run sends every bulletin marked with a send failure once. It returns a zero result when nothing is pending.
func (j *RetryJob) Run(ctx context.Context) (bulletin.BulkResult, error) {
	yes := true
	filter := &bulletin.QueryFilter{Statuses: []string{string(bulletin.StatusApproved)}, Signed: &yes, SendFailed: &yes}
	pending, err := j.finder.Query(ctx, filter, []core.DBOrdering{{Field: "updated_at", Ascending: true}})
	if err != nil {
		return bulletin.BulkResult{}, errors.Wrap(err, "querying pending bulletins")
	}
	if len(pending) == 0 {
		return bulletin.BulkResult{Action: bulletin.ActionSend}, nil
	}

	ids := make([]string, 0, len(pending))
	for _, b := range pending {
		ids = append(ids, b.ID)
	}
	res, err := j.runner.Run(ctx, SystemActor, bulletin.BulkRequest{IDs: ids, Action: bulletin.ActionSend})
	if err != nil {
		return res, errors.Wrap(err, "re-sending bulletins")
	}
	fields := map[string]interface{}{
		"pending":     len(ids),
		"succeeded":   res.Succeeded,
		"failed":      res.Failed,
		"skipped":     res.Skipped,
		"interrupted": res.Interrupted,
	}
	if res.HasFailures() {
		j.logger.Warn("scheduler: retry left bulletins unsent", fields, SystemActor)
	} else {
		j.logger.Info("scheduler: retry done", fields, SystemActor)
	}
	return res, nil
}

// Scheduler runs the retry job on a cron spec.
type Scheduler struct {
	cron   *cron.Cron
	logger core.Logger
}

// New schedules job on spec. An empty spec disables the scheduler.
func New(spec string, job *RetryJob, logger core.Logger) (*Scheduler, error) {
	cl := cronLogger{logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if spec != "" {
		_, err := c.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), job.timeout)
			defer cancel()
			if _, err := job.Run(ctx); err != nil {
				logger.Error(fmt.Sprintf("scheduler: retry failed: %v", err), err)
			}
		})
		if err != nil {
			return nil, core.NewValidationError(errors.Wrapf(err, "invalid retry spec %q", spec))
		}
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kv(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kv(keysAndValues))
}

func kv(keysAndValues []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		m[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return m
}
