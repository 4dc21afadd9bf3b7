package emailsvc

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-bulletins/core"
)

type consoleService struct {
	from       mail.Address
	subjPrefix string
	out        io.Writer
	mu         sync.Mutex
}

var _ core.EmailService = (*consoleService)(nil)

// NewConsoleService prints every message to stdout instead of sending it.
func NewConsoleService(conf *core.Config) core.EmailService {
	return newConsoleService(conf, os.Stdout)
}

func newConsoleService(conf *core.Config, out io.Writer) *consoleService {
	return &consoleService{
		from:       mail.Address{Name: conf.Notify.DefaultFromName, Address: conf.Notify.DefaultFromEmail},
		subjPrefix: "[" + conf.AppName + "] ",
		out:        out,
	}
}

func (svc *consoleService) SendMessages(messages ...*core.EmailMessage) (int, error) {
	var sent int
	for _, msg := range messages {
		ok, err := svc.sendMessage(msg)
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

func (svc *consoleService) sendMessage(msg *core.EmailMessage) (bool, error) {
	if err := msg.Render(); err != nil {
		return false, errors.Wrap(err, "rendering email")
	}
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return false, nil
	}
	body, err := svc.compose(*msg)
	if err != nil {
		return false, err
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if _, err := io.WriteString(svc.out, body); err != nil {
		return false, errors.Wrap(err, "writing email")
	}
	return true, nil
}

func (svc *consoleService) compose(msg core.EmailMessage) (string, error) {
	body := new(strings.Builder)

	// Write mail header
	_, _ = fmt.Fprintf(body, "From: %s\r\n", svc.from.String())
	_, _ = fmt.Fprint(body, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", svc.subjPrefix+msg.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", joinAddresses(msg.To))
	_, _ = fmt.Fprintf(body, "CC: %s\r\n", joinAddresses(msg.Cc))
	_, _ = fmt.Fprintf(body, "BCC: %s\r\n", joinAddresses(msg.Bcc))

	var mixedW *multipart.Writer
	altW := multipart.NewWriter(body)
	defer altW.Close()

	if msg.HasAttachments() {
		mixedW = multipart.NewWriter(body)
		defer mixedW.Close()
		_, _ = fmt.Fprintf(body, "Content-Type: multipart/mixed; boundary=%s\r\n", mixedW.Boundary())
	} else {
		_, _ = fmt.Fprintf(body, "Content-Type: multipart/alternative; boundary=%s\r\n", altW.Boundary())
	}
	_, _ = fmt.Fprint(body, "\r\n")

	if mixedW != nil {
		if _, err := mixedW.CreatePart(textproto.MIMEHeader{"Content-Type": {"multipart/alternative; boundary=" + altW.Boundary()}}); err != nil {
			return "", errors.Wrap(err, "creating multipart/alternative part")
		}
	}

	w, err := altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain"}})
	if err != nil {
		return "", errors.Wrap(err, "creating text/plain part")
	}
	_, _ = fmt.Fprintf(w, "%s\r\n", msg.TextContent)

	if msg.HTMLContent != "" {
		w, err = altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html"}})
		if err != nil {
			return "", errors.Wrap(err, "creating text/html part")
		}
		_, _ = fmt.Fprintf(w, "%s\r\n", msg.HTMLContent)
	}

	if mixedW != nil {
		for _, at := range msg.Attachments {
			w, err = mixedW.CreatePart(textproto.MIMEHeader{
				"Content-Type":              {at.ContentType},
				"Content-Transfer-Encoding": {"base64"},
				"Content-Disposition":       {"attachment; filename=" + at.Filename}})
			if err != nil {
				return "", errors.Wrap(err, "creating "+at.ContentType+" part")
			}
			_, _ = fmt.Fprintf(w, "%s\r\n", at.Content.String())
		}
	}
	return body.String(), nil
}

func joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}

// ServiceMock records the messages it would have sent.
type ServiceMock struct {
	consoleService
	mu   sync.Mutex
	sent []core.EmailMessage
	Err  error // returned by SendMessages when set
}

var _ core.EmailService = (*ServiceMock)(nil)

func NewServiceMock(conf *core.Config) *ServiceMock {
	return &ServiceMock{consoleService: *newConsoleService(conf, io.Discard)}
}

func (svc *ServiceMock) SendMessages(messages ...*core.EmailMessage) (int, error) {
	if svc.Err != nil {
		return 0, svc.Err
	}
	var sent int
	for _, msg := range messages {
		ok, err := svc.sendMessage(msg)
		if err != nil {
			return sent, err
		}
		if ok {
			svc.mu.Lock()
			svc.sent = append(svc.sent, *msg)
			svc.mu.Unlock()
			sent++
		}
	}
	return sent, nil
}

// SentMessages returns a copy of the recorded messages.
func (svc *ServiceMock) SentMessages() []core.EmailMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]core.EmailMessage(nil), svc.sent...)
}
