package grade

import (
	"sort"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/grading"
)

var (
	noScoreText        = "one of grade, continuous_score or exam_score is required"
	ambiguousGradeText = "grade cannot be combined with the score of the same component"

	// subject names this close to an existing one are rejected as duplicates
	subjectNameMaxSim   = .85
	subjectNameSimText  = "a subject with a similar name already exists: "
	subjectCodeTakenTxt = "a subject with this code already exists in the class"
)

func (ng NewGrade) Validate(validate *validator.Validate, translator ut.Translator) error {
	if err := validate.Struct(ng); err != nil {
		return core.ValidationErrors(err, translator)
	}

	if ng.Grade == nil && ng.ContinuousScore == nil && ng.ExamScore == nil {
		return core.NewValidationError(nil, core.FieldError{Field: "grade", Error: noScoreText})
	}
	if ng.Grade != nil {
		if (ng.component() == ComponentExam && ng.ExamScore != nil) ||
			(ng.component() == ComponentContinuous && ng.ContinuousScore != nil) {
			return core.NewValidationError(nil, core.FieldError{Field: "grade", Error: ambiguousGradeText})
		}
	}

	// the validator compares floats; recheck exactly
	if ng.Grade != nil {
		if err := grading.CheckScore("grade", *ng.Grade); err != nil {
			return err
		}
	}
	if ng.ContinuousScore != nil {
		if err := grading.CheckScore("continuous_score", *ng.ContinuousScore); err != nil {
			return err
		}
	}
	if ng.ExamScore != nil {
		if err := grading.CheckScore("exam_score", *ng.ExamScore); err != nil {
			return err
		}
	}
	if ng.Coefficient != nil {
		return grading.CheckCoefficient("coefficient", *ng.Coefficient)
	}
	return nil
}

func (ng NewGrade) component() string {
	if ng.Component == "" {
		return ComponentExam
	}
	return ng.Component
}

func (ns NewSubject) Validate(validate *validator.Validate, translator ut.Translator) error {
	if err := validate.Struct(ns); err != nil {
		return core.ValidationErrors(err, translator)
	}
	return grading.CheckCoefficient("coefficient", ns.Coefficient)
}

func (us UpdateSubject) Validate(validate *validator.Validate, translator ut.Translator) error {
	if err := validate.Struct(us); err != nil {
		return core.ValidationErrors(err, translator)
	}
	if us.Coefficient != nil {
		return grading.CheckCoefficient("coefficient", *us.Coefficient)
	}
	return nil
}

// checkSubjectUniqueness rejects a code already used in the class or a name too similar to another subject's.
func checkSubjectUniqueness(name, code string, existing []Subject, excludedID string) error {
	cleanName := strings.ToLower(core.CleanString(name))
	sort.Slice(existing, func(i, j int) bool { return existing[i].Name < existing[j].Name })

	for _, sub := range existing {
		if sub.ID == excludedID {
			continue
		}
		if code != "" && strings.EqualFold(sub.Code, code) {
			return core.NewValidationError(nil, core.FieldError{Field: "code", Error: subjectCodeTakenTxt})
		}
		other := strings.ToLower(sub.Name)
		if other == cleanName || nameSimilarity(cleanName, other) >= subjectNameMaxSim {
			return core.NewValidationError(nil, core.FieldError{Field: "name", Error: subjectNameSimText + sub.Name})
		}
	}
	return nil
}

func nameSimilarity(a, b string) float64 {
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}
