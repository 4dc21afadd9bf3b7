package grading

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-bulletins/core"
)

type Decision string

const (
	DecisionPromoted                 Decision = "promoted"
	DecisionRepeat                   Decision = "repeat"
	DecisionPromotedWithReservations Decision = "promoted-with-reservations"
)

func (d Decision) IsValid() bool {
	switch d {
	case DecisionPromoted, DecisionRepeat, DecisionPromotedWithReservations:
		return true
	}
	return false
}

var three = decimal.NewFromInt(3)

// Verdict is the promotion outcome of one student for one academic year.
type Verdict struct {
	AnnualAverage decimal.Decimal `json:"annual_average"`
	Decision      Decision        `json:"decision"`
	Justification string          `json:"justification,omitempty"`
}

// AnnualAverage is the simple mean of the three term averages.
// A missing term withholds the average with an IncompleteGradesError.
func AnnualAverage(t1, t2, t3 *decimal.Decimal) (decimal.Decimal, error) {
	var missing []string
	for i, t := range []*decimal.Decimal{t1, t2, t3} {
		if t == nil {
			missing = append(missing, "T"+string(rune('1'+i)))
			continue
		}
		if err := CheckScore("term_average", *t); err != nil {
			return decimal.Zero, err
		}
	}
	if missing != nil {
		return decimal.Zero, core.NewIncompleteGradesError("missing term average for %s", strings.Join(missing, ", "))
	}
	return t1.Add(*t2).Add(*t3).DivRound(three, 8), nil
}

// Decide promotes at or above the policy threshold (inclusive).
func Decide(annualAverage decimal.Decimal, p Policy) Verdict {
	v := Verdict{AnnualAverage: annualAverage, Decision: DecisionRepeat}
	if annualAverage.GreaterThanOrEqual(p.PromotionThreshold) {
		v.Decision = DecisionPromoted
	}
	return v
}

// Override records a council decision of promoted-with-reservations.
func Override(v Verdict, justification string) (Verdict, error) {
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return v, core.NewValidationError(nil, core.FieldError{Field: "justification", Error: "a justification is required to override the decision"})
	}
	v.Decision = DecisionPromotedWithReservations
	v.Justification = justification
	return v, nil
}
