package grade

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/grading"
)

type Term string

const (
	TermT1 Term = "T1"
	TermT2 Term = "T2"
	TermT3 Term = "T3" // final term
)

var Terms = []Term{TermT1, TermT2, TermT3}

func ParseTerm(s string) (Term, error) {
	t := Term(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TermT1, TermT2, TermT3:
		return t, nil
	}
	return "", core.NewValidationError(nil, core.FieldError{Field: "term", Error: "term must be one of T1, T2 or T3"})
}

func (t Term) IsFinal() bool { return t == TermT3 }

// Previous returns the term before t in the same academic year.
func (t Term) Previous() (Term, bool) {
	switch t {
	case TermT2:
		return TermT1, true
	case TermT3:
		return TermT2, true
	}
	return "", false
}

// Score components
const (
	ComponentContinuous = "continuous"
	ComponentExam       = "exam"
)

type (
	// StudentTerm addresses one student's term in one class; it is also the bulletin key.
	StudentTerm struct {
		StudentID    string `json:"student_id" query:"student_id" validate:"required,notblank"`
		ClassID      string `json:"class_id" query:"class_id" validate:"required,notblank"`
		AcademicYear string `json:"academic_year" query:"academic_year" validate:"required,academic_year"`
		Term         Term   `json:"term" query:"term" validate:"required,term"`
	}

	// ClassTerm addresses every student of a class for one term.
	ClassTerm struct {
		ClassID      string `json:"class_id"`
		AcademicYear string `json:"academic_year"`
		Term         Term   `json:"term"`
	}

	// Key uniquely identifies a grade component.
	Key struct {
		StudentID    string `json:"student_id"`
		SubjectID    string `json:"subject_id"`
		ClassID      string `json:"class_id"`
		AcademicYear string `json:"academic_year"`
		Term         Term   `json:"term"`
	}

	// Component holds the raw scores of one student in one subject for one term.
	// Coefficient is a snapshot of the subject coefficient at write time.
	Component struct {
		Key
		ContinuousScore *decimal.Decimal `json:"continuous_score"`
		ExamScore       *decimal.Decimal `json:"exam_score"`
		Coefficient     decimal.Decimal  `json:"coefficient"`
		Comment         string           `json:"comment,omitempty"`
		UpdatedBy       string           `json:"updated_by"`
		UpdatedAt       time.Time        `json:"updated_at"`
	}

	// Snapshot is a consistent read of a student's term: every component as of one ledger revision.
	Snapshot struct {
		StudentTerm
		Revision   int64       `json:"revision"`
		Components []Component `json:"components"`
	}

	Subject struct {
		ID          string           `json:"id"`
		ClassID     string           `json:"class_id"`
		Name        string           `json:"name"`
		Code        string           `json:"code"`
		Coefficient decimal.Decimal  `json:"coefficient"`
		WeeklyHours int              `json:"weekly_hours"`
		Category    grading.Category `json:"category"`
		Section     string           `json:"section,omitempty"`
		TeacherID   string           `json:"teacher_id,omitempty"`
		CreatedAt   time.Time        `json:"created_at"`
		UpdatedAt   time.Time        `json:"updated_at"`
	}

	Class struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Level string `json:"level,omitempty"`
	}

	Student struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		GuardianEmail string `json:"guardian_email,omitempty"`
		GuardianPhone string `json:"guardian_phone,omitempty"`
	}
)

func (k Key) StudentTerm() StudentTerm {
	return StudentTerm{StudentID: k.StudentID, ClassID: k.ClassID, AcademicYear: k.AcademicYear, Term: k.Term}
}

func (st StudentTerm) ClassTerm() ClassTerm {
	return ClassTerm{ClassID: st.ClassID, AcademicYear: st.AcademicYear, Term: st.Term}
}

func (st StudentTerm) WithTerm(t Term) StudentTerm {
	st.Term = t
	return st
}

// Component returns the component of a subject, false if there is none.
func (s Snapshot) Component(subjectID string) (Component, bool) {
	for _, c := range s.Components {
		if c.SubjectID == subjectID {
			return c, true
		}
	}
	return Component{}, false
}

// SubjectInputs joins the snapshot with the class subjects for term aggregation.
// Components of subjects no longer in the catalogue are skipped.
func (s Snapshot) SubjectInputs(subjects []Subject) []grading.SubjectInput {
	byID := make(map[string]Subject, len(subjects))
	for _, sub := range subjects {
		byID[sub.ID] = sub
	}
	inputs := make([]grading.SubjectInput, 0, len(s.Components))
	for _, c := range s.Components {
		sub, ok := byID[c.SubjectID]
		if !ok {
			continue
		}
		inputs = append(inputs, grading.SubjectInput{
			SubjectID:       c.SubjectID,
			SubjectName:     sub.Name,
			Category:        sub.Category,
			Section:         sub.Section,
			ContinuousScore: c.ContinuousScore,
			ExamScore:       c.ExamScore,
			Coefficient:     c.Coefficient,
			Comment:         c.Comment,
		})
	}
	return inputs
}

type (
	// NewGrade is the grade write contract. `grade` sets the score of `component` (exam by default);
	// components not carried by the write keep their previous value.
	NewGrade struct {
		StudentID       string           `json:"student_id" validate:"required,notblank"`
		ClassID         string           `json:"class_id" validate:"required,notblank"`
		AcademicYear    string           `json:"academic_year" validate:"required,academic_year"`
		Term            string           `json:"term" validate:"required,term"`
		SubjectID       string           `json:"subject_id" validate:"required,notblank"`
		Grade           *decimal.Decimal `json:"grade" validate:"omitempty,gte=0,lte=20"`
		Component       string           `json:"component" validate:"omitempty,oneof=continuous exam"`
		ContinuousScore *decimal.Decimal `json:"continuous_score" validate:"omitempty,gte=0,lte=20"`
		ExamScore       *decimal.Decimal `json:"exam_score" validate:"omitempty,gte=0,lte=20"`
		Coefficient     *decimal.Decimal `json:"coefficient" validate:"omitempty,gt=0"`
		Comment         string           `json:"comment" validate:"max=500"`
	}

	NewSubject struct {
		ClassID     string          `json:"class_id" validate:"required,notblank"`
		Name        string          `json:"name" validate:"required,notblank,max=100"`
		Code        string          `json:"code" validate:"required,notblank,max=20"`
		Coefficient decimal.Decimal `json:"coefficient" validate:"gt=0"`
		WeeklyHours int             `json:"weekly_hours" validate:"gte=0,lte=60"`
		Category    string          `json:"category" validate:"category"`
		Section     string          `json:"section" validate:"max=50"`
		TeacherID   string          `json:"teacher_id"`
	}

	// UpdateSubject renames a subject or sets its coefficient for later writes.
	UpdateSubject struct {
		Name        *string          `json:"name" validate:"omitempty,notblank,max=100"`
		Coefficient *decimal.Decimal `json:"coefficient" validate:"omitempty,gt=0"`
		WeeklyHours *int             `json:"weekly_hours" validate:"omitempty,gte=0,lte=60"`
		TeacherID   *string          `json:"teacher_id"`
	}
)

func (ng NewGrade) Key() Key {
	return Key{
		StudentID:    core.CleanString(ng.StudentID),
		SubjectID:    core.CleanString(ng.SubjectID),
		ClassID:      core.CleanString(ng.ClassID),
		AcademicYear: core.CleanString(ng.AcademicYear),
		Term:         Term(strings.ToUpper(core.CleanString(ng.Term))),
	}
}
