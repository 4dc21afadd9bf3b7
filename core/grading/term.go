package grading

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-bulletins/core"
)

type Remark string

const (
	RemarkExcellent        Remark = "excellent"
	RemarkGood             Remark = "good"
	RemarkFairlyGood       Remark = "fairly-good"
	RemarkNeedsImprovement Remark = "needs-improvement"
)

var (
	excellentFrom  = decimal.NewFromInt(16)
	goodFrom       = decimal.NewFromInt(14)
	fairlyGoodFrom = decimal.NewFromInt(12)
)

// RemarkFor buckets a subject score into a qualitative remark.
func RemarkFor(score decimal.Decimal) Remark {
	switch {
	case score.GreaterThanOrEqual(excellentFrom):
		return RemarkExcellent
	case score.GreaterThanOrEqual(goodFrom):
		return RemarkGood
	case score.GreaterThanOrEqual(fairlyGoodFrom):
		return RemarkFairlyGood
	}
	return RemarkNeedsImprovement
}

type (
	// SubjectInput is one enrolled subject of a student for a term, as read from the ledger.
	SubjectInput struct {
		SubjectID       string
		SubjectName     string
		Category        Category
		Section         string
		ContinuousScore *decimal.Decimal
		ExamScore       *decimal.Decimal
		Coefficient     decimal.Decimal
		Comment         string
	}

	// SubjectLine is the per-subject breakdown printed on a bulletin.
	SubjectLine struct {
		SubjectID       string           `json:"subject_id"`
		SubjectName     string           `json:"subject_name"`
		Category        Category         `json:"category"`
		Section         string           `json:"section,omitempty"`
		ContinuousScore *decimal.Decimal `json:"continuous_score,omitempty"`
		ExamScore       *decimal.Decimal `json:"exam_score,omitempty"`
		Score           decimal.Decimal  `json:"score"`
		Coefficient     decimal.Decimal  `json:"coefficient"`
		Weighted        decimal.Decimal  `json:"weighted"`
		Remark          Remark           `json:"remark"`
		Comment         string           `json:"comment,omitempty"`
	}

	TermResult struct {
		Lines            []SubjectLine   `json:"lines"`
		Excluded         []string        `json:"excluded,omitempty"` // subjects without any score
		TotalCoefficient decimal.Decimal `json:"total_coefficient"`
		TotalWeighted    decimal.Decimal `json:"total_weighted"`
		Average          decimal.Decimal `json:"average"`
	}
)

// AggregateTerm computes Σ(score×coefficient)/Σ(coefficient) over the scored subjects.
// Subjects with no score are excluded, not counted as zero.
// It fails with an IncompleteGradesError when no subject carries a score.
func AggregateTerm(inputs []SubjectInput, p Policy) (TermResult, error) {
	res := TermResult{TotalCoefficient: decimal.Zero, TotalWeighted: decimal.Zero}

	for _, in := range inputs {
		if err := CheckCoefficient("coefficient", in.Coefficient); err != nil {
			return TermResult{}, err
		}
		score, ok, err := SubjectScore(in.ContinuousScore, in.ExamScore, p)
		if err != nil {
			return TermResult{}, err
		}
		if !ok {
			res.Excluded = append(res.Excluded, in.SubjectID)
			continue
		}

		weighted := score.Mul(in.Coefficient)
		res.TotalCoefficient = res.TotalCoefficient.Add(in.Coefficient)
		res.TotalWeighted = res.TotalWeighted.Add(weighted)
		res.Lines = append(res.Lines, SubjectLine{
			SubjectID:       in.SubjectID,
			SubjectName:     in.SubjectName,
			Category:        in.Category,
			Section:         in.Section,
			ContinuousScore: in.ContinuousScore,
			ExamScore:       in.ExamScore,
			Score:           score,
			Coefficient:     in.Coefficient,
			Weighted:        weighted,
			Remark:          RemarkFor(score),
			Comment:         in.Comment,
		})
	}

	if !res.TotalCoefficient.IsPositive() {
		return TermResult{}, core.NewIncompleteGradesError("no scored subjects")
	}

	// exact division is not always representable; keep enough precision for ranking.
	res.Average = res.TotalWeighted.DivRound(res.TotalCoefficient, 8)
	sort.Slice(res.Lines, func(i, j int) bool { return res.Lines[i].SubjectID < res.Lines[j].SubjectID })
	sort.Strings(res.Excluded)
	return res, nil
}
