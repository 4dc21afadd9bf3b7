package bulletin

import (
	"strconv"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
)

type (
	// Council is the director-entered block of a final-term bulletin.
	Council struct {
		Override            bool   `json:"override"`
		Justification       string `json:"justification" validate:"max=1000"`
		CouncilObservations string `json:"council_observations" validate:"max=1000"`
		ConductSummary      string `json:"conduct_summary" validate:"max=500"`
	}

	// NewBulletin is the director's direct creation contract.
	NewBulletin struct {
		Identity NewIdentity `json:"identity"`
		Academic Academic    `json:"academic"`
		Grades   GradesBlock `json:"grades"`
		Language string      `json:"language" validate:"omitempty,oneof=en fr"`
	}

	NewIdentity struct {
		SchoolName  string `json:"school_name" validate:"max=200"`
		StudentName string `json:"student_name" validate:"required,notblank,max=200"`
		ClassName   string `json:"class_name" validate:"required,notblank,max=100"`
		Level       string `json:"level" validate:"max=100"`
		Track       string `json:"track" validate:"max=100"`
	}

	Academic struct {
		StudentID    string `json:"student_id" validate:"required,notblank"`
		ClassID      string `json:"class_id" validate:"required,notblank"`
		AcademicYear string `json:"academic_year" validate:"required,academic_year"`
		Term         string `json:"term" validate:"required,term"`
		ClassRank    int    `json:"class_rank" validate:"gte=0"`
		ClassSize    int    `json:"class_size" validate:"gte=0"`
	}

	// GradesBlock lists the subjects per printed section of the curriculum track.
	GradesBlock struct {
		General      []GradeLine `json:"general" validate:"dive"`
		Professional []GradeLine `json:"professional" validate:"dive"`
		Other        []GradeLine `json:"other" validate:"dive"`
	}

	GradeLine struct {
		SubjectID       string           `json:"subject_id"`
		Name            string           `json:"name" validate:"required,notblank,max=100"`
		ContinuousScore *decimal.Decimal `json:"continuous_score" validate:"omitempty,gte=0,lte=20"`
		ExamScore       *decimal.Decimal `json:"exam_score" validate:"omitempty,gte=0,lte=20"`
		Coefficient     decimal.Decimal  `json:"coefficient" validate:"gt=0"`
		Comment         string           `json:"comment" validate:"max=500"`
	}
)

func (c Council) Validate(validate *validator.Validate, translator ut.Translator) error {
	if err := validate.Struct(c); err != nil {
		return core.ValidationErrors(err, translator)
	}
	if c.Override && strings.TrimSpace(c.Justification) == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "justification", Error: "a justification is required to override the decision"})
	}
	return nil
}

func (nb NewBulletin) Validate(validate *validator.Validate, translator ut.Translator) error {
	if err := validate.Struct(nb); err != nil {
		return core.ValidationErrors(err, translator)
	}
	a := nb.Academic
	if a.ClassRank > 0 && (a.ClassSize == 0 || a.ClassRank > a.ClassSize) {
		return core.NewValidationError(nil, core.FieldError{Field: "class_rank", Error: "class rank cannot exceed the class size"})
	}
	if len(nb.Grades.General)+len(nb.Grades.Professional)+len(nb.Grades.Other) == 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "grades", Error: "at least one subject is required"})
	}
	return nil
}

func (a Academic) StudentTerm() grade.StudentTerm {
	return grade.StudentTerm{
		StudentID:    core.CleanString(a.StudentID),
		ClassID:      core.CleanString(a.ClassID),
		AcademicYear: core.CleanString(a.AcademicYear),
		Term:         grade.Term(strings.ToUpper(core.CleanString(a.Term))),
	}
}

func (ni NewIdentity) identity(defaultSchool string) Identity {
	school := core.CleanString(ni.SchoolName)
	if school == "" {
		school = defaultSchool
	}
	return Identity{
		SchoolName:  school,
		StudentName: core.CleanString(ni.StudentName),
		ClassName:   core.CleanString(ni.ClassName),
		Level:       core.CleanString(ni.Level),
		Track:       core.CleanString(ni.Track),
	}
}

func (g GradesBlock) inputs() []grading.SubjectInput {
	inputs := make([]grading.SubjectInput, 0, len(g.General)+len(g.Professional)+len(g.Other))
	add := func(section string, cat grading.Category, lines []GradeLine) {
		for i, l := range lines {
			id := core.CleanString(l.SubjectID)
			if id == "" {
				id = section + "-" + strconv.Itoa(i+1)
			}
			inputs = append(inputs, grading.SubjectInput{
				SubjectID:       id,
				SubjectName:     core.CleanString(l.Name),
				Category:        cat,
				Section:         section,
				ContinuousScore: l.ContinuousScore,
				ExamScore:       l.ExamScore,
				Coefficient:     l.Coefficient,
				Comment:         core.CleanString(l.Comment),
			})
		}
	}
	add(grading.SectionGeneral, grading.CategoryGeneral, g.General)
	add(grading.SectionProfessional, grading.CategoryProfessional, g.Professional)
	add(grading.SectionOther, grading.CategoryOther, g.Other)
	return inputs
}
