package notifysvc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
	emailsvc "github.com/trezcool/masomo-bulletins/services/email"
	logsvc "github.com/trezcool/masomo-bulletins/services/logger"
)

type senderFunc func(ctx context.Context, n bulletin.Notice) error

func (f senderFunc) Send(ctx context.Context, n bulletin.Notice) error { return f(ctx, n) }

func notice() bulletin.Notice {
	return bulletin.Notice{
		BulletinID:    "b1",
		StudentID:     "s1",
		StudentName:   "Amani Kabila",
		ClassName:     "6A",
		AcademicYear:  "2024-2025",
		Term:          grade.TermT1,
		TermLabel:     "First term",
		Average:       decimal.RequireFromString("14.25"),
		Rank:          2,
		ClassSize:     30,
		DocumentURL:   "https://cdn.test/b1.html",
		GuardianEmail: "guardian@example.com",
		GuardianPhone: "+243990000000",
	}
}

func TestDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	ok := senderFunc(func(ctx context.Context, n bulletin.Notice) error { return nil })
	ko := senderFunc(func(ctx context.Context, n bulletin.Notice) error { return errors.New("gateway down") })

	tests := []struct {
		name      string
		senders   map[bulletin.Channel]Sender
		channels  []bulletin.Channel
		delivered int
		wantErr   bool
	}{
		{
			name:      "all channels deliver",
			senders:   map[bulletin.Channel]Sender{bulletin.ChannelMail: ok, bulletin.ChannelSMS: ok},
			channels:  []bulletin.Channel{bulletin.ChannelMail, bulletin.ChannelSMS},
			delivered: 2,
		},
		{
			name:      "one failing channel does not block the others",
			senders:   map[bulletin.Channel]Sender{bulletin.ChannelMail: ko, bulletin.ChannelSMS: ok},
			channels:  []bulletin.Channel{bulletin.ChannelMail, bulletin.ChannelSMS},
			delivered: 1,
		},
		{
			name:      "duplicate channels are sent once",
			senders:   map[bulletin.Channel]Sender{bulletin.ChannelMail: ok},
			channels:  []bulletin.Channel{bulletin.ChannelMail, bulletin.ChannelMail},
			delivered: 1,
		},
		{
			name:     "nothing delivered",
			senders:  map[bulletin.Channel]Sender{bulletin.ChannelMail: ko},
			channels: []bulletin.Channel{bulletin.ChannelMail, bulletin.ChannelChat},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(core.NotifyConfig{MaxInFlight: 2}, tt.senders, logsvc.NewNopLogger())
			report, err := d.Dispatch(context.Background(), notice(), tt.channels)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, ErrChannelNotConfigured.Error(), report[bulletin.ChannelChat].Error)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.delivered, report.Delivered())
		})
	}
}

func TestDispatch_BoundsInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	var inFlight, peak int32
	slow := senderFunc(func(ctx context.Context, n bulletin.Notice) error {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	senders := map[bulletin.Channel]Sender{bulletin.ChannelMail: slow, bulletin.ChannelSMS: slow, bulletin.ChannelChat: slow}
	d := NewDispatcher(core.NotifyConfig{MaxInFlight: 2}, senders, logsvc.NewNopLogger())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispatch(context.Background(), notice(), bulletin.Channels)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestMailSender(t *testing.T) {
	conf := &core.Config{AppName: "Masomo", Notify: core.NotifyConfig{DefaultFromEmail: "noreply@masomo.test"}}
	email := emailsvc.NewServiceMock(conf)
	sender := NewMailSender(conf, email)

	require.NoError(t, sender.Send(context.Background(), notice()))
	sent := email.SentMessages()
	if assert.Len(t, sent, 1) {
		assert.Equal(t, "guardian@example.com", sent[0].To[0].Address)
		assert.Contains(t, sent[0].TextContent, "Amani Kabila")
		assert.Contains(t, sent[0].HTMLContent, "https://cdn.test/b1.html")
	}

	n := notice()
	n.GuardianEmail = ""
	assert.ErrorIs(t, sender.Send(context.Background(), n), ErrNoRecipient)
}

func TestText(t *testing.T) {
	n := notice()
	assert.Equal(t, "Amani Kabila 6A, First term: average 14.25/20, rank 2/30. https://cdn.test/b1.html", Text(n))
}
