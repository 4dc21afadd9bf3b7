package bulletin

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
)

type (
	// Bulletin is the frozen report of one student for one term. Its rows and averages are
	// a snapshot of the ledger at LedgerRevision and are never recomputed in place.
	Bulletin struct {
		ID string `json:"id"`
		grade.StudentTerm
		Status         Status                `json:"status"`
		Identity       Identity              `json:"identity"`
		Rows           []grading.SubjectLine `json:"rows"`
		Excluded       []string              `json:"excluded,omitempty"`
		TermAverage    decimal.Decimal       `json:"term_average"`
		ClassRank      int                   `json:"class_rank,omitempty"`
		ClassSize      int                   `json:"class_size"`
		Trend          *grading.Trend        `json:"trend,omitempty"`
		Annual         *AnnualDecision       `json:"annual,omitempty"`
		Signature      *Signature            `json:"signature,omitempty"`
		Document       *DocumentRef          `json:"document,omitempty"`
		Delivery       DeliveryReport        `json:"delivery,omitempty"`
		SendFailure    *SendFailure          `json:"send_failure,omitempty"` // last send stopped by a downstream failure
		LedgerRevision int64                 `json:"ledger_revision"`
		Direct         bool                  `json:"direct"` // created by a director, not drafted from the ledger
		History        []Transition          `json:"history"`
		Version        int64                 `json:"version"` // bumped by every stored change
		CreatedBy      string                `json:"created_by"`
		CreatedAt      time.Time             `json:"created_at"`
		UpdatedAt      time.Time             `json:"updated_at"`
		SubmittedAt    *time.Time            `json:"submitted_at,omitempty"`
		ApprovedAt     *time.Time            `json:"approved_at,omitempty"`
		SentAt         *time.Time            `json:"sent_at,omitempty"`
	}

	Identity struct {
		SchoolName  string `json:"school_name"`
		StudentName string `json:"student_name"`
		ClassName   string `json:"class_name"`
		Level       string `json:"level,omitempty"`
		Track       string `json:"track,omitempty"` // curriculum track, eg. technical
	}

	// AnnualDecision is the promotion block of a final-term bulletin.
	AnnualDecision struct {
		TermAverages        map[grade.Term]decimal.Decimal `json:"term_averages"`
		AnnualAverage       decimal.Decimal                `json:"annual_average"`
		Decision            grading.Decision               `json:"decision"`
		Justification       string                         `json:"justification,omitempty"`
		CouncilObservations string                         `json:"council_observations,omitempty"`
		ConductSummary      string                         `json:"conduct_summary,omitempty"`
		AnnualRank          int                            `json:"annual_rank,omitempty"`
	}

	Signature struct {
		SignerID   string    `json:"signer_id"`
		SignerName string    `json:"signer_name"`
		SignerRole string    `json:"signer_role"`
		SignedAt   time.Time `json:"signed_at"`
	}

	// SendFailure records a send that reached the renderer or the dispatcher and failed there.
	SendFailure struct {
		At    time.Time `json:"at"`
		Error string    `json:"error"`
		Code  string    `json:"code"`
	}

	// Transition is one recorded lifecycle move.
	Transition struct {
		From    Status    `json:"from"`
		To      Status    `json:"to"`
		Action  Action    `json:"action"`
		ActorID string    `json:"actor_id"`
		At      time.Time `json:"at"`
	}

	QueryFilter struct {
		StudentID    string   `query:"student_id"`
		ClassID      string   `query:"class_id"`
		AcademicYear string   `query:"academic_year"`
		Term         string   `query:"term"`
		Statuses     []string `query:"status"`
		Signed       *bool    `query:"signed"`
		SendFailed   *bool    `query:"send_failed"`
	}
)

func (b Bulletin) IsSigned() bool { return b.Signature != nil }

// Lines groups the rows by printed section (general, professional, other).
func (b Bulletin) Lines() map[string][]grading.SubjectLine {
	return grading.GroupBySection(b.Rows)
}

func (f *QueryFilter) Clean() {
	statuses := f.Statuses[:0]
	for _, s := range f.Statuses {
		if st, ok := ParseStatus(s); ok {
			statuses = append(statuses, string(st))
		}
	}
	f.Statuses = statuses
}

func (f QueryFilter) Match(b Bulletin) bool {
	if f.StudentID != "" && b.StudentID != f.StudentID {
		return false
	}
	if f.ClassID != "" && b.ClassID != f.ClassID {
		return false
	}
	if f.AcademicYear != "" && b.AcademicYear != f.AcademicYear {
		return false
	}
	if f.Term != "" && string(b.Term) != f.Term {
		return false
	}
	if f.Signed != nil && b.IsSigned() != *f.Signed {
		return false
	}
	if f.SendFailed != nil && (b.SendFailure != nil) != *f.SendFailed {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if string(b.Status) == s {
				return true
			}
		}
		return false
	}
	return true
}

// Orderable bulletin fields, {query field: column}
var OrderingColumns = map[string]string{
	"student_id":   "student_id",
	"term":         "term",
	"status":       "status",
	"term_average": "term_average",
	"class_rank":   "class_rank",
	"created_at":   "created_at",
	"updated_at":   "updated_at",
}
