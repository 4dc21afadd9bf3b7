package emailsvc

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-bulletins/core"
	logsvc "github.com/trezcool/masomo-bulletins/services/logger"
)

func testConf() *core.Config {
	return &core.Config{
		AppName: "Masomo",
		Notify: core.NotifyConfig{
			DefaultFromName:  "Masomo",
			DefaultFromEmail: "noreply@masomo.test",
			SendgridApiKey:   "SG.test",
		},
	}
}

func bulletinMessage(to string) *core.EmailMessage {
	msg := &core.EmailMessage{
		Subject:      "Report card",
		AppName:      "Masomo",
		TemplateName: "bulletin_sent",
		TemplateData: map[string]interface{}{
			"TermLabel":    "First term",
			"StudentName":  "Amani Kabila",
			"ClassName":    "6A",
			"AcademicYear": "2024-2025",
			"Average":      "14.25",
			"Rank":         2,
			"ClassSize":    30,
			"Decision":     "",
			"DocumentURL":  "https://cdn.test/b1.html",
		},
	}
	if to != "" {
		msg.To = []mail.Address{{Address: to}}
	}
	return msg
}

func TestConsoleService(t *testing.T) {
	out := new(bytes.Buffer)
	svc := newConsoleService(testConf(), out)

	n, err := svc.SendMessages(bulletinMessage("guardian@example.com"), bulletinMessage(""))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "messages without recipients are not sent")

	body := out.String()
	assert.Contains(t, body, "Subject: [Masomo] Report card")
	assert.Contains(t, body, "To: <guardian@example.com>")
	assert.Contains(t, body, "Amani Kabila")
	assert.Contains(t, body, "Rank 2/30")
	assert.NotContains(t, body, "Council decision")
}

func TestServiceMock(t *testing.T) {
	svc := NewServiceMock(testConf())
	n, err := svc.SendMessages(bulletinMessage("a@example.com"), bulletinMessage("b@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, svc.SentMessages(), 2)

	svc.Err = assert.AnError
	_, err = svc.SendMessages(bulletinMessage("c@example.com"))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, svc.SentMessages(), 2)
}

func TestSendgridService(t *testing.T) {
	var got []string
	status := http.StatusAccepted
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.Path)
		assert.Equal(t, "Bearer SG.test", r.Header.Get("Authorization"))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	svc := NewSendgridService(testConf(), logsvc.NewNopLogger()).(*sendgridService)
	svc.host = srv.URL

	n, err := svc.SendMessages(bulletinMessage("guardian@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{endpoint}, got)

	status = http.StatusServiceUnavailable
	n, err = svc.SendMessages(bulletinMessage("guardian@example.com"))
	assert.Equal(t, 0, n)
	if assert.Error(t, err) {
		assert.True(t, strings.Contains(err.Error(), "503"))
	}
}
