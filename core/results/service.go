// Package results derives term reports, class rankings and annual verdicts from the grade ledger.
// Reports are computed from one ledger snapshot and cached by ledger revision.
package results

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
)

type (
	// Ledger is the read side of the grade ledger.
	Ledger interface {
		Snapshot(ctx context.Context, st grade.StudentTerm) (grade.Snapshot, error)
		ClassSubjects(ctx context.Context, classID string) ([]grade.Subject, error)
		Enrolled(ctx context.Context, classID, academicYear string) ([]string, error)
	}

	TermReport struct {
		grade.StudentTerm
		Revision int64              `json:"revision"`
		Result   grading.TermResult `json:"result"`
	}

	AnnualReport struct {
		StudentID    string                         `json:"student_id"`
		ClassID      string                         `json:"class_id"`
		AcademicYear string                         `json:"academic_year"`
		TermAverages map[grade.Term]decimal.Decimal `json:"term_averages"`
		Verdict      grading.Verdict                `json:"verdict"`
	}

	Service struct {
		ledger Ledger
		policy grading.Policy
		logger core.Logger

		mu    sync.Mutex
		cache map[grade.StudentTerm]cacheEntry
	}

	cacheEntry struct {
		revision int64
		stamp    int64 // latest subject update of the class
		report   TermReport
		err      error
	}
)

func NewService(ledger Ledger, policy grading.Policy, logger core.Logger) *Service {
	return &Service{
		ledger: ledger,
		policy: policy,
		logger: logger,
		cache:  make(map[grade.StudentTerm]cacheEntry),
	}
}

func (svc *Service) Policy() grading.Policy { return svc.policy }

// TermReport aggregates a student's term. Any grade write since the last call
// bumps the ledger revision and forces a recomputation.
func (svc *Service) TermReport(ctx context.Context, st grade.StudentTerm) (TermReport, error) {
	subjects, err := svc.ledger.ClassSubjects(ctx, st.ClassID)
	if err != nil {
		return TermReport{}, errors.Wrap(err, "querying class subjects")
	}
	return svc.termReport(ctx, st, subjects)
}

func (svc *Service) termReport(ctx context.Context, st grade.StudentTerm, subjects []grade.Subject) (TermReport, error) {
	snap, err := svc.ledger.Snapshot(ctx, st)
	if err != nil {
		return TermReport{}, errors.Wrap(err, "reading ledger snapshot")
	}
	stamp := subjectsStamp(subjects)

	svc.mu.Lock()
	entry, ok := svc.cache[st]
	svc.mu.Unlock()
	if ok && entry.revision == snap.Revision && entry.stamp == stamp {
		return entry.report, entry.err
	}

	report := TermReport{StudentTerm: st, Revision: snap.Revision}
	report.Result, err = grading.AggregateTerm(snap.SubjectInputs(subjects), svc.policy)
	if err != nil && !errors.Is(err, core.ErrIncompleteGrades) {
		return TermReport{}, err
	}

	svc.mu.Lock()
	if cur, ok := svc.cache[st]; !ok || cur.revision <= snap.Revision {
		svc.cache[st] = cacheEntry{revision: snap.Revision, stamp: stamp, report: report, err: err}
	}
	svc.mu.Unlock()
	return report, err
}

func subjectsStamp(subjects []grade.Subject) int64 {
	var stamp int64
	for _, s := range subjects {
		if ts := s.UpdatedAt.UnixNano(); ts > stamp {
			stamp = ts
		}
	}
	return stamp
}

// ClassRanking ranks every enrolled student of a class by term average.
// Students without a computable average are reported as unranked but still count in the class size.
func (svc *Service) ClassRanking(ctx context.Context, ct grade.ClassTerm) (grading.Ranking, error) {
	students, err := svc.ledger.Enrolled(ctx, ct.ClassID, ct.AcademicYear)
	if err != nil {
		return grading.Ranking{}, errors.Wrap(err, "getting enrolled students")
	}
	subjects, err := svc.ledger.ClassSubjects(ctx, ct.ClassID)
	if err != nil {
		return grading.Ranking{}, errors.Wrap(err, "querying class subjects")
	}

	entries := make([]grading.RankEntry, 0, len(students))
	var unranked []string
	for _, id := range students {
		st := grade.StudentTerm{StudentID: id, ClassID: ct.ClassID, AcademicYear: ct.AcademicYear, Term: ct.Term}
		report, err := svc.termReport(ctx, st, subjects)
		switch {
		case err == nil:
			entries = append(entries, grading.RankEntry{StudentID: id, Average: report.Result.Average})
		case errors.Is(err, core.ErrIncompleteGrades):
			unranked = append(unranked, id)
		default:
			return grading.Ranking{}, err
		}
	}
	return grading.Rank(entries, unranked...), nil
}

// Annual computes the annual average and the promotion decision of a student.
// It fails with an IncompleteGradesError unless all three term averages exist.
func (svc *Service) Annual(ctx context.Context, studentID, classID, academicYear string) (AnnualReport, error) {
	subjects, err := svc.ledger.ClassSubjects(ctx, classID)
	if err != nil {
		return AnnualReport{}, errors.Wrap(err, "querying class subjects")
	}
	return svc.annual(ctx, studentID, classID, academicYear, subjects)
}

func (svc *Service) annual(ctx context.Context, studentID, classID, academicYear string, subjects []grade.Subject) (AnnualReport, error) {
	report := AnnualReport{
		StudentID:    studentID,
		ClassID:      classID,
		AcademicYear: academicYear,
		TermAverages: make(map[grade.Term]decimal.Decimal, len(grade.Terms)),
	}
	avgs := make([]*decimal.Decimal, len(grade.Terms))
	for i, t := range grade.Terms {
		st := grade.StudentTerm{StudentID: studentID, ClassID: classID, AcademicYear: academicYear, Term: t}
		tr, err := svc.termReport(ctx, st, subjects)
		if err != nil {
			if errors.Is(err, core.ErrIncompleteGrades) {
				continue
			}
			return AnnualReport{}, err
		}
		avg := tr.Result.Average
		avgs[i] = &avg
		report.TermAverages[t] = avg
	}

	annualAvg, err := grading.AnnualAverage(avgs[0], avgs[1], avgs[2])
	if err != nil {
		return report, err
	}
	report.Verdict = grading.Decide(annualAvg, svc.policy)
	return report, nil
}

// AnnualRanking ranks the students of a class by annual average.
func (svc *Service) AnnualRanking(ctx context.Context, classID, academicYear string) (grading.Ranking, error) {
	students, err := svc.ledger.Enrolled(ctx, classID, academicYear)
	if err != nil {
		return grading.Ranking{}, errors.Wrap(err, "getting enrolled students")
	}
	subjects, err := svc.ledger.ClassSubjects(ctx, classID)
	if err != nil {
		return grading.Ranking{}, errors.Wrap(err, "querying class subjects")
	}

	entries := make([]grading.RankEntry, 0, len(students))
	var unranked []string
	for _, id := range students {
		report, err := svc.annual(ctx, id, classID, academicYear, subjects)
		switch {
		case err == nil:
			entries = append(entries, grading.RankEntry{StudentID: id, Average: report.Verdict.AnnualAverage})
		case errors.Is(err, core.ErrIncompleteGrades):
			unranked = append(unranked, id)
		default:
			return grading.Ranking{}, err
		}
	}
	return grading.Rank(entries, unranked...), nil
}

// Trend compares a student's term average with the previous term.
// It returns grading.ErrInsufficientHistory when there is no previous average to compare with.
func (svc *Service) Trend(ctx context.Context, st grade.StudentTerm) (grading.Trend, error) {
	prevTerm, ok := st.Term.Previous()
	if !ok {
		return grading.Trend{}, grading.ErrInsufficientHistory
	}
	subjects, err := svc.ledger.ClassSubjects(ctx, st.ClassID)
	if err != nil {
		return grading.Trend{}, errors.Wrap(err, "querying class subjects")
	}

	cur, err := svc.termReport(ctx, st, subjects)
	if err != nil {
		return grading.Trend{}, err
	}
	prev, err := svc.termReport(ctx, st.WithTerm(prevTerm), subjects)
	if err != nil {
		if errors.Is(err, core.ErrIncompleteGrades) {
			return grading.Trend{}, grading.ErrInsufficientHistory
		}
		return grading.Trend{}, err
	}
	return grading.CompareTerms(&prev.Result.Average, cur.Result.Average)
}
