package bulletin

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
)

// Document templates
const (
	TemplateTerm   = "term"
	TemplateAnnual = "annual"
)

type (
	// Layout selects the document template: one per term, or the annual one for a final-term bulletin with a decision.
	Layout struct {
		Language string     `json:"language"`
		Template string     `json:"template"`
		Term     grade.Term `json:"term"`
	}

	DocumentRef struct {
		URL         string    `json:"url"`
		Key         string    `json:"key"`
		ContentType string    `json:"content_type"`
		Layout      Layout    `json:"layout"`
		RenderedAt  time.Time `json:"rendered_at"`
	}

	// Renderer renders a bulletin snapshot into a retrievable document.
	Renderer interface {
		Render(ctx context.Context, b Bulletin, layout Layout) (DocumentRef, error)
	}
)

func LayoutFor(b Bulletin, language string) Layout {
	l := Layout{Language: language, Template: TemplateTerm, Term: b.Term}
	if b.Term.IsFinal() && b.Annual != nil {
		l.Template = TemplateAnnual
	}
	return l
}

type Channel string

const (
	ChannelMail Channel = "mail"
	ChannelSMS  Channel = "sms"
	ChannelChat Channel = "chat"
)

var Channels = []Channel{ChannelMail, ChannelSMS, ChannelChat}

func ParseChannel(s string) (Channel, bool) {
	for _, c := range Channels {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

type (
	// Notice is what the dispatcher needs to tell a family their bulletin is out.
	Notice struct {
		BulletinID    string           `json:"bulletin_id"`
		StudentID     string           `json:"student_id"`
		StudentName   string           `json:"student_name"`
		ClassName     string           `json:"class_name"`
		AcademicYear  string           `json:"academic_year"`
		Term          grade.Term       `json:"term"`
		TermLabel     string           `json:"term_label"`
		Average       decimal.Decimal  `json:"average"`
		Rank          int              `json:"rank"`
		ClassSize     int              `json:"class_size"`
		Decision      grading.Decision `json:"decision,omitempty"`
		DocumentURL   string           `json:"document_url"`
		GuardianEmail string           `json:"guardian_email,omitempty"`
		GuardianPhone string           `json:"guardian_phone,omitempty"`
	}

	ChannelReport struct {
		Delivered int    `json:"delivered"`
		Failed    int    `json:"failed"`
		Error     string `json:"error,omitempty"`
	}

	// DeliveryReport holds the delivery counts per channel.
	DeliveryReport map[Channel]ChannelReport

	// Dispatcher delivers a notice over a set of channels. A failing channel never blocks the others;
	// an error is returned only when nothing was delivered.
	Dispatcher interface {
		Dispatch(ctx context.Context, n Notice, channels []Channel) (DeliveryReport, error)
	}
)

func (r DeliveryReport) Delivered() int {
	var n int
	for _, c := range r {
		n += c.Delivered
	}
	return n
}

func NewNotice(b Bulletin, student grade.Student) Notice {
	n := Notice{
		BulletinID:    b.ID,
		StudentID:     b.StudentID,
		StudentName:   b.Identity.StudentName,
		ClassName:     b.Identity.ClassName,
		AcademicYear:  b.AcademicYear,
		Term:          b.Term,
		TermLabel:     TermLabel(b.Term),
		Average:       grading.Round(b.TermAverage),
		Rank:          b.ClassRank,
		ClassSize:     b.ClassSize,
		GuardianEmail: student.GuardianEmail,
		GuardianPhone: student.GuardianPhone,
	}
	if n.StudentName == "" {
		n.StudentName = student.Name
	}
	if b.Annual != nil {
		n.Decision = b.Annual.Decision
	}
	if b.Document != nil {
		n.DocumentURL = b.Document.URL
	}
	return n
}

func TermLabel(t grade.Term) string {
	switch t {
	case grade.TermT1:
		return "First term"
	case grade.TermT2:
		return "Second term"
	case grade.TermT3:
		return "Third term"
	}
	return string(t)
}
