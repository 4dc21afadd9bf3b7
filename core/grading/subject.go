package grading

import (
	"github.com/shopspring/decimal"
)

// SubjectScore combines the continuous-assessment and exam scores of one subject.
//
//   - both present: cc*ContinuousWeight + exam*ExamWeight
//   - one present: that score
//   - none: ok is false and the subject must be left out of the term average
func SubjectScore(cc, exam *decimal.Decimal, p Policy) (score decimal.Decimal, ok bool, err error) {
	if cc != nil {
		if err = CheckScore("continuous_score", *cc); err != nil {
			return decimal.Zero, false, err
		}
	}
	if exam != nil {
		if err = CheckScore("exam_score", *exam); err != nil {
			return decimal.Zero, false, err
		}
	}

	switch {
	case cc != nil && exam != nil:
		score = cc.Mul(p.ContinuousWeight).Add(exam.Mul(p.ExamWeight))
	case cc != nil:
		score = *cc
	case exam != nil:
		score = *exam
	default:
		return decimal.Zero, false, nil
	}

	if err = CheckScore("score", score); err != nil {
		return decimal.Zero, false, err
	}
	return score, true, nil
}
