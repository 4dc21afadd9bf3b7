package grade

import (
	"context"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/grading"
	"github.com/trezcool/masomo-bulletins/core/user"
)

var (
	ErrComponentNotFound = errors.Wrap(core.ErrNotFound, "grade component")
	ErrSubjectNotFound   = errors.Wrap(core.ErrNotFound, "subject")
	ErrClassNotFound     = errors.Wrap(core.ErrNotFound, "class")
	ErrStudentNotFound   = errors.Wrap(core.ErrNotFound, "student")

	notEnrolledText  = "student is not enrolled in this class"
	wrongClassText   = "subject does not belong to this class"
	unknownSubjText  = "unknown subject"
	unknownClassText = "unknown class"
)

type (
	// Repository is the grade ledger store. Every write bumps the revision of the written student term.
	Repository interface {
		// UpsertComponent replaces the component stored under c.Key (last write wins).
		UpsertComponent(ctx context.Context, c Component) (Component, error)
		GetComponent(ctx context.Context, key Key) (Component, error)
		// Snapshot reads every component of a student term at a single revision.
		Snapshot(ctx context.Context, st StudentTerm) (Snapshot, error)
	}

	SubjectRepository interface {
		CreateSubject(ctx context.Context, sub Subject) (Subject, error)
		GetSubject(ctx context.Context, id string) (Subject, error)
		UpdateSubject(ctx context.Context, sub Subject) (Subject, error)
		QueryClassSubjects(ctx context.Context, classID string) ([]Subject, error)
	}

	// Roster is the enrollment collaborator; class and student records are managed elsewhere.
	Roster interface {
		GetClass(ctx context.Context, id string) (Class, error)
		GetStudent(ctx context.Context, id string) (Student, error)
		// Enrolled returns the ids of the students enrolled in a class for an academic year, sorted.
		Enrolled(ctx context.Context, classID, academicYear string) ([]string, error)
	}

	Service struct {
		repo       Repository
		subjects   SubjectRepository
		roster     Roster
		categories *grading.CategoryTable
		validate   *validator.Validate
		translator ut.Translator
		logger     core.Logger
	}
)

func NewService(
	repo Repository,
	subjects SubjectRepository,
	roster Roster,
	categories *grading.CategoryTable,
	validate *validator.Validate,
	translator ut.Translator,
	logger core.Logger,
) *Service {
	if categories == nil {
		categories = grading.NewCategoryTable()
	}
	return &Service{
		repo:       repo,
		subjects:   subjects,
		roster:     roster,
		categories: categories,
		validate:   validate,
		translator: translator,
		logger:     logger,
	}
}

// Record writes a grade component. Only the subject's teacher or a director may write it.
func (svc *Service) Record(ctx context.Context, actor user.User, ng NewGrade) (Component, error) {
	if err := ng.Validate(svc.validate, svc.translator); err != nil {
		return Component{}, err
	}
	key := ng.Key()

	sub, err := svc.subjects.GetSubject(ctx, key.SubjectID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Component{}, core.NewValidationError(nil, core.FieldError{Field: "subject_id", Error: unknownSubjText})
		}
		return Component{}, errors.Wrap(err, "getting subject")
	}
	if sub.ClassID != key.ClassID {
		return Component{}, core.NewValidationError(nil, core.FieldError{Field: "subject_id", Error: wrongClassText})
	}
	if !CanWrite(actor, sub) {
		return Component{}, core.ErrForbidden
	}
	if err = svc.checkEnrolled(ctx, key.ClassID, key.AcademicYear, key.StudentID); err != nil {
		return Component{}, err
	}

	comp, err := svc.repo.GetComponent(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrNotFound):
		comp = Component{Key: key, Coefficient: sub.Coefficient}
	default:
		return Component{}, errors.Wrap(err, "getting grade component")
	}

	// only overwrite what the write carries
	if ng.Grade != nil {
		g := *ng.Grade
		if ng.component() == ComponentContinuous {
			comp.ContinuousScore = &g
		} else {
			comp.ExamScore = &g
		}
	}
	if ng.ContinuousScore != nil {
		cc := *ng.ContinuousScore
		comp.ContinuousScore = &cc
	}
	if ng.ExamScore != nil {
		exam := *ng.ExamScore
		comp.ExamScore = &exam
	}
	if ng.Coefficient != nil {
		comp.Coefficient = *ng.Coefficient
	}
	if ng.Comment != "" {
		comp.Comment = core.CleanString(ng.Comment)
	}
	comp.UpdatedBy = actor.ID
	comp.UpdatedAt = time.Now().UTC()

	stored, err := svc.repo.UpsertComponent(ctx, comp)
	if err != nil {
		return Component{}, errors.Wrap(err, "storing grade component")
	}
	svc.logger.Debug("grade recorded", map[string]interface{}{
		"student_id": key.StudentID, "subject_id": key.SubjectID, "term": key.Term,
	}, actor)
	return stored, nil
}

// CanWrite reports whether actor may write grades of the subject.
func CanWrite(actor user.User, sub Subject) bool {
	if actor.IsDirector() {
		return true
	}
	return actor.IsTeacher() && sub.TeacherID != "" && sub.TeacherID == actor.ID
}

func (svc *Service) checkEnrolled(ctx context.Context, classID, year, studentID string) error {
	ids, err := svc.roster.Enrolled(ctx, classID, year)
	if err != nil {
		return errors.Wrap(err, "getting enrolled students")
	}
	for _, id := range ids {
		if id == studentID {
			return nil
		}
	}
	return core.NewValidationError(nil, core.FieldError{Field: "student_id", Error: notEnrolledText})
}

func (svc *Service) GetComponent(ctx context.Context, key Key) (Component, error) {
	return svc.repo.GetComponent(ctx, key)
}

func (svc *Service) Snapshot(ctx context.Context, st StudentTerm) (Snapshot, error) {
	return svc.repo.Snapshot(ctx, st)
}

func (svc *Service) Enrolled(ctx context.Context, classID, academicYear string) ([]string, error) {
	return svc.roster.Enrolled(ctx, classID, academicYear)
}

func (svc *Service) GetClass(ctx context.Context, id string) (Class, error) {
	return svc.roster.GetClass(ctx, id)
}

func (svc *Service) GetStudent(ctx context.Context, id string) (Student, error) {
	return svc.roster.GetStudent(ctx, id)
}

// Subjects

func (svc *Service) CreateSubject(ctx context.Context, actor user.User, ns NewSubject) (Subject, error) {
	if !actor.IsDirector() {
		return Subject{}, core.ErrForbidden
	}
	if err := ns.Validate(svc.validate, svc.translator); err != nil {
		return Subject{}, err
	}
	classID := core.CleanString(ns.ClassID)
	if _, err := svc.roster.GetClass(ctx, classID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Subject{}, core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: unknownClassText})
		}
		return Subject{}, errors.Wrap(err, "getting class")
	}

	existing, err := svc.subjects.QueryClassSubjects(ctx, classID)
	if err != nil {
		return Subject{}, errors.Wrap(err, "querying class subjects")
	}
	code := core.CleanString(ns.Code)
	if err = checkSubjectUniqueness(ns.Name, code, existing, ""); err != nil {
		return Subject{}, err
	}

	// an explicit category wins over the institution table
	entry := svc.categories.Lookup(code)
	if cat, ok := grading.ParseCategory(ns.Category); ok {
		entry = grading.CategoryEntry{Category: cat, Section: cat.Section()}
	}
	if s := core.CleanString(ns.Section); s != "" {
		entry.Section = s
	}

	now := time.Now().UTC()
	sub, err := svc.subjects.CreateSubject(ctx, Subject{
		ClassID:     classID,
		Name:        core.CleanString(ns.Name),
		Code:        code,
		Coefficient: ns.Coefficient,
		WeeklyHours: ns.WeeklyHours,
		Category:    entry.Category,
		Section:     entry.Section,
		TeacherID:   core.CleanString(ns.TeacherID),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return sub, errors.Wrap(err, "creating subject")
}

// UpdateSubject renames a subject or changes its coefficient; stored components keep their coefficient.
func (svc *Service) UpdateSubject(ctx context.Context, actor user.User, id string, us UpdateSubject) (Subject, error) {
	if !actor.IsDirector() {
		return Subject{}, core.ErrForbidden
	}
	if err := us.Validate(svc.validate, svc.translator); err != nil {
		return Subject{}, err
	}
	sub, err := svc.subjects.GetSubject(ctx, id)
	if err != nil {
		return Subject{}, errors.Wrap(err, "getting subject")
	}

	if us.Name != nil {
		existing, err := svc.subjects.QueryClassSubjects(ctx, sub.ClassID)
		if err != nil {
			return Subject{}, errors.Wrap(err, "querying class subjects")
		}
		if err = checkSubjectUniqueness(*us.Name, "", existing, sub.ID); err != nil {
			return Subject{}, err
		}
		sub.Name = core.CleanString(*us.Name)
	}
	if us.Coefficient != nil {
		sub.Coefficient = *us.Coefficient
	}
	if us.WeeklyHours != nil {
		sub.WeeklyHours = *us.WeeklyHours
	}
	if us.TeacherID != nil {
		sub.TeacherID = core.CleanString(*us.TeacherID)
	}
	sub.UpdatedAt = time.Now().UTC()

	sub, err = svc.subjects.UpdateSubject(ctx, sub)
	return sub, errors.Wrap(err, "updating subject")
}

func (svc *Service) GetSubject(ctx context.Context, id string) (Subject, error) {
	return svc.subjects.GetSubject(ctx, id)
}

func (svc *Service) ClassSubjects(ctx context.Context, classID string) ([]Subject, error) {
	return svc.subjects.QueryClassSubjects(ctx, classID)
}
