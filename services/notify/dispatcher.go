package notifysvc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
)

var (
	ErrNoRecipient          = errors.New("no recipient address")
	ErrChannelNotConfigured = errors.New("channel not configured")
)

// Sender delivers a notice over a single channel.
type Sender interface {
	Send(ctx context.Context, n bulletin.Notice) error
}

type Dispatcher struct {
	senders map[bulletin.Channel]Sender
	sem     *semaphore.Weighted
	logger  core.Logger
}

var _ bulletin.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher bounds the sends in flight across all concurrent dispatches to conf.MaxInFlight.
func NewDispatcher(conf core.NotifyConfig, senders map[bulletin.Channel]Sender, logger core.Logger) *Dispatcher {
	limit := int64(conf.MaxInFlight)
	if limit < 1 {
		limit = 1
	}
	return &Dispatcher{
		senders: senders,
		sem:     semaphore.NewWeighted(limit),
		logger:  logger,
	}
}

// Dispatch sends n over every channel in parallel. Channels fail independently;
// an error is returned only when no channel delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, n bulletin.Notice, channels []bulletin.Channel) (bulletin.DeliveryReport, error) {
	channels = uniqueChannels(channels)
	if len(channels) == 0 {
		return nil, core.NewValidationError(errors.New("no channel to dispatch on"))
	}

	var (
		mu     sync.Mutex
		report = make(bulletin.DeliveryReport, len(channels))
		g      errgroup.Group // no shared ctx: one failure must not cancel the others
	)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			res := bulletin.ChannelReport{Delivered: 1}
			if err := d.send(ctx, ch, n); err != nil {
				res = bulletin.ChannelReport{Failed: 1, Error: err.Error()}
				d.logger.Warn(
					fmt.Sprintf("notify: %s delivery failed: %v", ch, err),
					err,
					map[string]interface{}{"bulletin_id": n.BulletinID, "channel": string(ch)},
				)
			}
			mu.Lock()
			report[ch] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if report.Delivered() == 0 {
		return report, errors.Errorf("no channel delivered bulletin %s: %s", n.BulletinID, failures(report))
	}
	return report, nil
}

func (d *Dispatcher) send(ctx context.Context, ch bulletin.Channel, n bulletin.Notice) error {
	sender, ok := d.senders[ch]
	if !ok {
		return ErrChannelNotConfigured
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)
	return sender.Send(ctx, n)
}

func uniqueChannels(channels []bulletin.Channel) []bulletin.Channel {
	seen := make(map[bulletin.Channel]bool, len(channels))
	out := make([]bulletin.Channel, 0, len(channels))
	for _, ch := range channels {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out
}

func failures(r bulletin.DeliveryReport) string {
	keys := make([]string, 0, len(r))
	for ch, res := range r {
		keys = append(keys, fmt.Sprintf("%s: %s", ch, res.Error))
	}
	sort.Strings(keys)
	return fmt.Sprint(keys)
}
