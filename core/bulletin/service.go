// Package bulletin carries report documents through their lifecycle:
// draft -> submitted -> approved -> sent.
package bulletin

import (
	"context"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
	"github.com/trezcool/masomo-bulletins/core/results"
	"github.com/trezcool/masomo-bulletins/core/user"
)

var (
	ErrNotFound      = errors.Wrap(core.ErrNotFound, "bulletin")
	ErrStatusChanged = errors.Wrap(core.ErrInvalidTransition, "bulletin changed concurrently")
	ErrKeyExists     = errors.Wrap(core.ErrInvalidTransition, "a bulletin already exists for this student term")
	ErrStaleSnapshot = errors.Wrap(core.ErrInvalidTransition, "grades changed since the bulletin was drafted, draft it again")

	missingSignerText = "missing signer metadata"
	notFinalTermText  = "council decisions only apply to final-term bulletins"
)

type (
	Repository interface {
		CreateBulletin(ctx context.Context, b Bulletin) (Bulletin, error)
		GetBulletin(ctx context.Context, id string) (Bulletin, error)
		GetBulletinByKey(ctx context.Context, st grade.StudentTerm) (Bulletin, error)
		QueryBulletins(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Bulletin, error)
		// TransitionBulletin stores b only if the stored status still equals from and the stored
		// version still equals b.Version, else ErrStatusChanged. The stored copy has its version bumped.
		TransitionBulletin(ctx context.Context, b Bulletin, from Status) (Bulletin, error)
	}

	// Ledger is what bulletins read from the grade ledger and the roster.
	Ledger interface {
		GetClass(ctx context.Context, id string) (grade.Class, error)
		GetStudent(ctx context.Context, id string) (grade.Student, error)
		ClassSubjects(ctx context.Context, classID string) ([]grade.Subject, error)
	}

	Results interface {
		TermReport(ctx context.Context, st grade.StudentTerm) (results.TermReport, error)
		ClassRanking(ctx context.Context, ct grade.ClassTerm) (grading.Ranking, error)
		Annual(ctx context.Context, studentID, classID, academicYear string) (results.AnnualReport, error)
		AnnualRanking(ctx context.Context, classID, academicYear string) (grading.Ranking, error)
		Trend(ctx context.Context, st grade.StudentTerm) (grading.Trend, error)
		Policy() grading.Policy
	}

	Service struct {
		repo       Repository
		ledger     Ledger
		results    Results
		renderer   Renderer
		conf       core.BulletinConfig
		validate   *validator.Validate
		translator ut.Translator
		logger     core.Logger
	}
)

func NewService(
	repo Repository,
	ledger Ledger,
	res Results,
	renderer Renderer,
	conf core.BulletinConfig,
	validate *validator.Validate,
	translator ut.Translator,
	logger core.Logger,
) *Service {
	return &Service{
		repo:       repo,
		ledger:     ledger,
		results:    res,
		renderer:   renderer,
		conf:       conf,
		validate:   validate,
		translator: translator,
		logger:     logger,
	}
}

// transition applies action through Next and stores the result with a compare-and-swap on the current status.
func (svc *Service) transition(ctx context.Context, b Bulletin, action Action, actor user.User, mutate func(*Bulletin) error) (Bulletin, error) {
	from := b.Status
	to, err := Next(from, action)
	if err != nil {
		return b, err
	}
	if mutate != nil {
		if err = mutate(&b); err != nil {
			return b, err
		}
	}

	now := time.Now().UTC()
	b.Status = to
	b.UpdatedAt = now
	switch {
	case to == StatusSubmitted && from != to:
		b.SubmittedAt = &now
	case to == StatusApproved && from != to:
		b.ApprovedAt = &now
	case to == StatusSent:
		b.SentAt = &now
	}
	b.History = append(b.History, Transition{From: from, To: to, Action: action, ActorID: actor.ID, At: now})

	stored, err := svc.repo.TransitionBulletin(ctx, b, from)
	if err != nil {
		return b, errors.Wrapf(err, "%s bulletin", action)
	}
	return stored, nil
}

func (svc *Service) checkTeaches(ctx context.Context, actor user.User, classID string) error {
	if actor.IsDirector() {
		return nil
	}
	if !actor.IsTeacher() {
		return core.ErrForbidden
	}
	subjects, err := svc.ledger.ClassSubjects(ctx, classID)
	if err != nil {
		return errors.Wrap(err, "querying class subjects")
	}
	for _, s := range subjects {
		if s.TeacherID == actor.ID {
			return nil
		}
	}
	return core.ErrForbidden
}

func (svc *Service) validateKey(st grade.StudentTerm) error {
	if err := svc.validate.Struct(st); err != nil {
		return core.ValidationErrors(err, svc.translator)
	}
	return nil
}

// Draft freezes the current ledger state of a student term into a draft bulletin.
// Drafting again refreshes the snapshot until the bulletin is submitted.
func (svc *Service) Draft(ctx context.Context, actor user.User, st grade.StudentTerm) (Bulletin, error) {
	if err := svc.validateKey(st); err != nil {
		return Bulletin{}, err
	}
	if err := svc.checkTeaches(ctx, actor, st.ClassID); err != nil {
		return Bulletin{}, err
	}

	snap, err := svc.snapshot(ctx, st)
	if err != nil {
		return Bulletin{}, err
	}

	existing, err := svc.repo.GetBulletinByKey(ctx, st)
	switch {
	case err == nil:
		return svc.transition(ctx, existing, ActionDraft, actor, func(b *Bulletin) error {
			b.Identity = snap.Identity
			b.Rows = snap.Rows
			b.Excluded = snap.Excluded
			b.TermAverage = snap.TermAverage
			b.ClassRank = snap.ClassRank
			b.ClassSize = snap.ClassSize
			b.Trend = snap.Trend
			b.Annual = snap.Annual
			b.LedgerRevision = snap.LedgerRevision
			return nil
		})
	case errors.Is(err, core.ErrNotFound):
	default:
		return Bulletin{}, errors.Wrap(err, "getting bulletin by key")
	}

	now := time.Now().UTC()
	snap.Status = StatusDraft
	snap.CreatedBy = actor.ID
	snap.CreatedAt = now
	snap.UpdatedAt = now
	snap.History = []Transition{{To: StatusDraft, Action: ActionDraft, ActorID: actor.ID, At: now}}
	b, err := svc.repo.CreateBulletin(ctx, snap)
	return b, errors.Wrap(err, "creating bulletin")
}

// snapshot reads the term report, the class ranking and, for the final term, the annual decision.
func (svc *Service) snapshot(ctx context.Context, st grade.StudentTerm) (Bulletin, error) {
	report, err := svc.results.TermReport(ctx, st)
	if err != nil {
		return Bulletin{}, err
	}
	ranking, err := svc.results.ClassRanking(ctx, st.ClassTerm())
	if err != nil {
		return Bulletin{}, errors.Wrap(err, "ranking class")
	}
	rank, _ := ranking.RankOf(st.StudentID)

	identity, err := svc.identity(ctx, st)
	if err != nil {
		return Bulletin{}, err
	}

	b := Bulletin{
		StudentTerm:    st,
		Identity:       identity,
		Rows:           report.Result.Lines,
		Excluded:       report.Result.Excluded,
		TermAverage:    report.Result.Average,
		ClassRank:      rank,
		ClassSize:      ranking.Size,
		LedgerRevision: report.Revision,
	}

	trend, err := svc.results.Trend(ctx, st)
	switch {
	case err == nil:
		b.Trend = &trend
	case errors.Is(err, grading.ErrInsufficientHistory):
	default:
		return Bulletin{}, errors.Wrap(err, "comparing with previous term")
	}

	if st.Term.IsFinal() {
		if b.Annual, err = svc.annualDecision(ctx, st); err != nil {
			return Bulletin{}, err
		}
	}
	return b, nil
}

func (svc *Service) annualDecision(ctx context.Context, st grade.StudentTerm) (*AnnualDecision, error) {
	annual, err := svc.results.Annual(ctx, st.StudentID, st.ClassID, st.AcademicYear)
	if err != nil {
		if errors.Is(err, core.ErrIncompleteGrades) {
			svc.logger.Info("annual decision withheld", map[string]interface{}{
				"student_id": st.StudentID, "class_id": st.ClassID, "reason": err.Error(),
			})
			return nil, nil
		}
		return nil, errors.Wrap(err, "computing annual average")
	}

	dec := &AnnualDecision{
		TermAverages:  annual.TermAverages,
		AnnualAverage: annual.Verdict.AnnualAverage,
		Decision:      annual.Verdict.Decision,
	}
	ranking, err := svc.results.AnnualRanking(ctx, st.ClassID, st.AcademicYear)
	if err != nil {
		return nil, errors.Wrap(err, "ranking class by annual average")
	}
	dec.AnnualRank, _ = ranking.RankOf(st.StudentID)
	return dec, nil
}

func (svc *Service) identity(ctx context.Context, st grade.StudentTerm) (Identity, error) {
	class, err := svc.ledger.GetClass(ctx, st.ClassID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Identity{}, core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "unknown class"})
		}
		return Identity{}, errors.Wrap(err, "getting class")
	}
	student, err := svc.ledger.GetStudent(ctx, st.StudentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Identity{}, core.NewValidationError(nil, core.FieldError{Field: "student_id", Error: "unknown student"})
		}
		return Identity{}, errors.Wrap(err, "getting student")
	}
	return Identity{
		SchoolName:  svc.conf.SchoolName,
		StudentName: student.Name,
		ClassName:   class.Name,
		Level:       class.Level,
	}, nil
}

// Submit moves a draft to submitted. The bulletin must carry subject rows and a term average,
// and a drafted snapshot must still match the ledger: grades written since then fail with ErrStaleSnapshot.
func (svc *Service) Submit(ctx context.Context, actor user.User, id string) (Bulletin, error) {
	b, err := svc.repo.GetBulletin(ctx, id)
	if err != nil {
		return Bulletin{}, errors.Wrap(err, "getting bulletin")
	}
	if err = svc.checkTeaches(ctx, actor, b.ClassID); err != nil {
		return b, err
	}
	if _, err = Next(b.Status, ActionSubmit); err != nil {
		return b, err
	}
	if len(b.Rows) == 0 {
		return b, core.NewIncompleteGradesError("bulletin has no subject rows")
	}
	if !b.Direct {
		report, err := svc.results.TermReport(ctx, b.StudentTerm)
		if err != nil {
			return b, err
		}
		if report.Revision != b.LedgerRevision {
			return b, errors.Wrapf(ErrStaleSnapshot, "drafted at revision %d, ledger at %d", b.LedgerRevision, report.Revision)
		}
	}
	return svc.transition(ctx, b, ActionSubmit, actor, nil)
}

// Approve moves a submitted bulletin to approved. Approving an approved bulletin is a no-op.
func (svc *Service) Approve(ctx context.Context, actor user.User, id string) (Bulletin, error) {
	if !actor.IsDirector() {
		return Bulletin{}, core.ErrForbidden
	}
	b, err := svc.repo.GetBulletin(ctx, id)
	if err != nil {
		return Bulletin{}, errors.Wrap(err, "getting bulletin")
	}
	if b.Status == StatusApproved {
		return b, nil
	}
	return svc.transition(ctx, b, ActionApprove, actor, nil)
}

// Decide records the council decision on a final-term bulletin before approval.
func (svc *Service) Decide(ctx context.Context, actor user.User, id string, c Council) (Bulletin, error) {
	if !actor.IsDirector() {
		return Bulletin{}, core.ErrForbidden
	}
	if err := c.Validate(svc.validate, svc.translator); err != nil {
		return Bulletin{}, err
	}
	b, err := svc.repo.GetBulletin(ctx, id)
	if err != nil {
		return Bulletin{}, errors.Wrap(err, "getting bulletin")
	}
	if _, err = Next(b.Status, ActionDecide); err != nil {
		return b, err
	}
	if !b.Term.IsFinal() {
		return b, core.NewValidationError(nil, core.FieldError{Field: "term", Error: notFinalTermText})
	}
	if b.Annual == nil {
		return b, core.NewIncompleteGradesError("annual decision withheld until all three terms are graded")
	}

	return svc.transition(ctx, b, ActionDecide, actor, func(b *Bulletin) error {
		dec := *b.Annual
		if c.Override {
			verdict, err := grading.Override(grading.Verdict{AnnualAverage: dec.AnnualAverage, Decision: dec.Decision}, c.Justification)
			if err != nil {
				return err
			}
			dec.Decision = verdict.Decision
			dec.Justification = verdict.Justification
		}
		dec.CouncilObservations = core.CleanString(c.CouncilObservations)
		dec.ConductSummary = core.CleanString(c.ConductSummary)
		b.Annual = &dec
		return nil
	})
}

// Create is the director's direct creation: the bulletin is built from the given blocks,
// goes draft -> submitted and is rendered.
func (svc *Service) Create(ctx context.Context, actor user.User, nb NewBulletin) (Bulletin, error) {
	if !actor.IsDirector() {
		return Bulletin{}, core.ErrForbidden
	}
	if err := nb.Validate(svc.validate, svc.translator); err != nil {
		return Bulletin{}, err
	}
	st := nb.Academic.StudentTerm()

	if existing, err := svc.repo.GetBulletinByKey(ctx, st); err == nil {
		if existing.Status != StatusDraft {
			return Bulletin{}, core.NewTransitionError(string(existing.Status), "create")
		}
		return Bulletin{}, errors.Wrap(ErrKeyExists, "creating bulletin")
	} else if !errors.Is(err, core.ErrNotFound) {
		return Bulletin{}, errors.Wrap(err, "getting bulletin by key")
	}

	res, err := grading.AggregateTerm(nb.Grades.inputs(), svc.results.Policy())
	if err != nil {
		return Bulletin{}, err
	}

	var annual *AnnualDecision
	if st.Term.IsFinal() {
		if annual, err = svc.directAnnual(ctx, st, res.Average); err != nil {
			return Bulletin{}, err
		}
	}

	now := time.Now().UTC()
	b, err := svc.repo.CreateBulletin(ctx, Bulletin{
		StudentTerm: st,
		Status:      StatusDraft,
		Identity:    nb.Identity.identity(svc.conf.SchoolName),
		Rows:        res.Lines,
		Excluded:    res.Excluded,
		TermAverage: res.Average,
		ClassRank:   nb.Academic.ClassRank,
		ClassSize:   nb.Academic.ClassSize,
		Annual:      annual,
		Direct:      true,
		History:     []Transition{{To: StatusDraft, Action: ActionDraft, ActorID: actor.ID, At: now}},
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Bulletin{}, errors.Wrap(err, "creating bulletin")
	}
	if b, err = svc.transition(ctx, b, ActionSubmit, actor, nil); err != nil {
		return b, err
	}

	lang := nb.Language
	if lang == "" {
		lang = svc.conf.Language
	}
	return svc.render(ctx, b, lang)
}

// directAnnual completes the final-term average of a direct creation with the ledger averages
// of the first two terms. The decision is withheld when one of them is missing.
func (svc *Service) directAnnual(ctx context.Context, st grade.StudentTerm, final decimal.Decimal) (*AnnualDecision, error) {
	averages := make(map[grade.Term]decimal.Decimal, len(grade.Terms))
	for _, t := range grade.Terms {
		if t == st.Term {
			averages[t] = final
			continue
		}
		term := st
		term.Term = t
		report, err := svc.results.TermReport(ctx, term)
		if err != nil {
			if errors.Is(err, core.ErrIncompleteGrades) {
				svc.logger.Info("annual decision withheld", map[string]interface{}{
					"student_id": st.StudentID, "class_id": st.ClassID, "reason": err.Error(),
				})
				return nil, nil
			}
			return nil, errors.Wrapf(err, "getting %s average", t)
		}
		averages[t] = report.Result.Average
	}

	t1, t2, t3 := averages[grade.TermT1], averages[grade.TermT2], averages[grade.TermT3]
	avg, err := grading.AnnualAverage(&t1, &t2, &t3)
	if err != nil {
		return nil, err
	}
	verdict := grading.Decide(avg, svc.results.Policy())
	return &AnnualDecision{TermAverages: averages, AnnualAverage: verdict.AnnualAverage, Decision: verdict.Decision}, nil
}

// render stores a document reference on b; the status is left untouched.
func (svc *Service) render(ctx context.Context, b Bulletin, language string) (Bulletin, error) {
	if language == "" {
		language = svc.conf.Language
	}
	doc, err := svc.renderer.Render(ctx, b, LayoutFor(b, language))
	if err != nil {
		return b, core.NewDownstreamError("document renderer", err)
	}
	b.Document = &doc
	b.UpdatedAt = time.Now().UTC()
	stored, err := svc.repo.TransitionBulletin(ctx, b, b.Status)
	if err != nil {
		return b, errors.Wrap(err, "storing document reference")
	}
	return stored, nil
}

// Sign records signer on an approved bulletin. Signing a signed bulletin is a no-op.
func (svc *Service) Sign(ctx context.Context, signer user.User, id string) (Bulletin, error) {
	if !signer.IsDirector() {
		return Bulletin{}, core.ErrForbidden
	}
	b, err := svc.repo.GetBulletin(ctx, id)
	if err != nil {
		return Bulletin{}, errors.Wrap(err, "getting bulletin")
	}
	return svc.sign(ctx, signer, b)
}

func (svc *Service) sign(ctx context.Context, signer user.User, b Bulletin) (Bulletin, error) {
	if _, err := Next(b.Status, ActionSign); err != nil {
		return b, err
	}
	if b.IsSigned() {
		return b, nil
	}
	name, title := strings.TrimSpace(signer.Name), signer.Title()
	if name == "" || title == "" {
		return b, core.NewValidationError(nil, core.FieldError{Field: "signer", Error: missingSignerText})
	}
	return svc.transition(ctx, b, ActionSign, signer, func(b *Bulletin) error {
		b.Signature = &Signature{SignerID: signer.ID, SignerName: name, SignerRole: title, SignedAt: time.Now().UTC()}
		return nil
	})
}

// recordSendFailure marks b for the retry job; the status is left untouched.
func (svc *Service) recordSendFailure(ctx context.Context, b Bulletin, cause error) (Bulletin, error) {
	now := time.Now().UTC()
	b.SendFailure = &SendFailure{At: now, Error: cause.Error(), Code: core.CodeOf(cause)}
	b.UpdatedAt = now
	stored, err := svc.repo.TransitionBulletin(ctx, b, b.Status)
	if err != nil {
		return b, errors.Wrap(err, "recording send failure")
	}
	return stored, nil
}

// markSent is the only way to reach sent; it requires a recorded signature.
func (svc *Service) markSent(ctx context.Context, actor user.User, b Bulletin, report DeliveryReport) (Bulletin, error) {
	if !b.IsSigned() {
		return b, core.NewValidationError(nil, core.FieldError{Field: "signature", Error: "bulletin must be signed before it is sent"})
	}
	return svc.transition(ctx, b, ActionSend, actor, func(b *Bulletin) error {
		b.Delivery = report
		b.SendFailure = nil
		return nil
	})
}

// Lookup returns the bulletin of a student term, or core.ErrNoData when none exists.
func (svc *Service) Lookup(ctx context.Context, st grade.StudentTerm) (Bulletin, error) {
	if err := svc.validateKey(st); err != nil {
		return Bulletin{}, err
	}
	b, err := svc.repo.GetBulletinByKey(ctx, st)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Bulletin{}, errors.Wrap(core.ErrNoData, "no bulletin for this student term")
		}
		return Bulletin{}, errors.Wrap(err, "getting bulletin by key")
	}
	return b, nil
}

func (svc *Service) Get(ctx context.Context, id string) (Bulletin, error) {
	return svc.repo.GetBulletin(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Bulletin, error) {
	if filter != nil {
		filter.Clean()
	}
	return svc.repo.QueryBulletins(ctx, filter, core.AllowedOrderings(ordering, OrderingColumns))
}
