package notifysvc

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
)

const bulletinSentTemplate = "bulletin_sent"

type mailSender struct {
	appName string
	email   core.EmailService
}

// NewMailSender sends the "bulletin_sent" email to the guardian.
func NewMailSender(conf *core.Config, email core.EmailService) Sender {
	return &mailSender{appName: conf.AppName, email: email}
}

func (s *mailSender) Send(ctx context.Context, n bulletin.Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.GuardianEmail == "" {
		return ErrNoRecipient
	}
	to, err := mail.ParseAddress(n.GuardianEmail)
	if err != nil {
		return errors.Wrap(err, "parsing guardian email")
	}

	msg := &core.EmailMessage{
		To:           []mail.Address{*to},
		Subject:      fmt.Sprintf("%s report card of %s", n.TermLabel, n.StudentName),
		AppName:      s.appName,
		TemplateName: bulletinSentTemplate,
		TemplateData: n,
	}
	sent, err := s.email.SendMessages(msg)
	if err != nil {
		return err
	}
	if sent == 0 {
		return errors.New("email not handed over")
	}
	return nil
}

// Gateway is a text-message provider (SMS or chat).
type Gateway interface {
	SendText(ctx context.Context, to, text string) error
}

type textSender struct {
	channel bulletin.Channel
	gateway Gateway
}

// NewTextSender sends a short text to the guardian's phone over gateway.
func NewTextSender(channel bulletin.Channel, gateway Gateway) Sender {
	return &textSender{channel: channel, gateway: gateway}
}

func (s *textSender) Send(ctx context.Context, n bulletin.Notice) error {
	if n.GuardianPhone == "" {
		return ErrNoRecipient
	}
	return s.gateway.SendText(ctx, n.GuardianPhone, Text(n))
}

// Text is the short notice sent over text channels.
func Text(n bulletin.Notice) string {
	txt := fmt.Sprintf("%s %s, %s: average %s/20", n.StudentName, n.ClassName, n.TermLabel, n.Average.StringFixed(2))
	if n.Rank > 0 {
		txt += fmt.Sprintf(", rank %d/%d", n.Rank, n.ClassSize)
	}
	if n.Decision != "" {
		txt += fmt.Sprintf(", decision: %s", n.Decision)
	}
	if n.DocumentURL != "" {
		txt += ". " + n.DocumentURL
	}
	return txt
}

type logGateway struct {
	channel bulletin.Channel
	logger  core.Logger
}

// NewLogGateway writes texts to the logs; used where no provider is configured.
func NewLogGateway(channel bulletin.Channel, logger core.Logger) Gateway {
	return &logGateway{channel: channel, logger: logger}
}

func (g *logGateway) SendText(ctx context.Context, to, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.logger.Info("notify: text message", map[string]interface{}{
		"channel": string(g.channel),
		"to":      to,
		"text":    text,
	})
	return nil
}

// NewSenders builds the senders of the configured channels.
func NewSenders(conf *core.Config, email core.EmailService, logger core.Logger) map[bulletin.Channel]Sender {
	senders := make(map[bulletin.Channel]Sender)
	for _, name := range conf.Notify.Channels {
		ch, ok := bulletin.ParseChannel(name)
		if !ok {
			logger.Warn("notify: unknown channel " + name)
			continue
		}
		switch ch {
		case bulletin.ChannelMail:
			senders[ch] = NewMailSender(conf, email)
		default:
			senders[ch] = NewTextSender(ch, NewLogGateway(ch, logger))
		}
	}
	return senders
}
