// Package grading holds the pure score computations: subject scores, term averages,
// annual averages, promotion decisions and class rankings.
// Nothing in here blocks or touches storage.
package grading

import (
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-bulletins/core"
)

var (
	MinScore = decimal.Zero
	MaxScore = decimal.NewFromInt(20)

	defaultContinuousWeight   = decimal.RequireFromString("0.4")
	defaultExamWeight         = decimal.RequireFromString("0.6")
	defaultPromotionThreshold = decimal.NewFromInt(10)
)

// Policy is the institution-level grading policy.
type Policy struct {
	ContinuousWeight   decimal.Decimal
	ExamWeight         decimal.Decimal
	PromotionThreshold decimal.Decimal
}

// DefaultPolicy weights CC 40% and Exam 60%, and promotes from 10/20.
func DefaultPolicy() Policy {
	return Policy{
		ContinuousWeight:   defaultContinuousWeight,
		ExamWeight:         defaultExamWeight,
		PromotionThreshold: defaultPromotionThreshold,
	}
}

// NewPolicy builds a Policy from the configuration, falling back to the defaults for zero values.
func NewPolicy(conf core.GradingConfig) (Policy, error) {
	p := DefaultPolicy()
	if !conf.ContinuousWeight.IsZero() || !conf.ExamWeight.IsZero() {
		p.ContinuousWeight = conf.ContinuousWeight
		p.ExamWeight = conf.ExamWeight
	}
	if !conf.PromotionThreshold.IsZero() {
		p.PromotionThreshold = conf.PromotionThreshold
	}
	return p, p.Validate()
}

func (p Policy) Validate() error {
	var flds []core.FieldError
	if p.ContinuousWeight.IsNegative() || p.ExamWeight.IsNegative() {
		flds = append(flds, core.FieldError{Field: "weights", Error: "weights cannot be negative"})
	} else if !p.ContinuousWeight.Add(p.ExamWeight).Equal(decimal.NewFromInt(1)) {
		flds = append(flds, core.FieldError{Field: "weights", Error: "continuous and exam weights must add up to 1"})
	}
	if !InRange(p.PromotionThreshold) {
		flds = append(flds, core.FieldError{Field: "promotion_threshold", Error: "threshold must be between 0 and 20"})
	}
	if flds != nil {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// InRange reports whether 0 <= d <= 20.
func InRange(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(MinScore) && d.LessThanOrEqual(MaxScore)
}

// CheckScore rejects scores outside [0, 20]. Scores are never clamped.
func CheckScore(field string, d decimal.Decimal) error {
	if !InRange(d) {
		return core.NewValidationError(nil, core.FieldError{Field: field, Error: "score must be between 0 and 20"})
	}
	return nil
}

// CheckCoefficient rejects coefficients <= 0.
func CheckCoefficient(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return core.NewValidationError(nil, core.FieldError{Field: field, Error: "coefficient must be greater than 0"})
	}
	return nil
}

// Round is the display rounding used on bulletins (2 decimal places).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
