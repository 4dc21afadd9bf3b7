// Package testutil seeds ledgers and wires the engine for package tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
	"github.com/trezcool/masomo-bulletins/core/results"
	"github.com/trezcool/masomo-bulletins/core/user"
	logsvc "github.com/trezcool/masomo-bulletins/services/logger"
	"github.com/trezcool/masomo-bulletins/storage/database"
	inmemdb "github.com/trezcool/masomo-bulletins/storage/database/inmem"
)

const Year = "2024-2025"

// Actors

func Director() user.User {
	return user.User{ID: "dir-1", Name: "Mme Furaha", Email: "principal@masomo.test", Roles: []string{user.RoleAdminPrincipal}}
}

func Teacher(id string) user.User {
	return user.User{ID: id, Name: "Teacher " + id, Roles: []string{user.RoleTeacher}}
}

func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func DecPtr(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d := Dec(s)
	return &d
}

func StudentTerm(studentID, classID string, term grade.Term) grade.StudentTerm {
	return grade.StudentTerm{StudentID: studentID, ClassID: classID, AcademicYear: Year, Term: term}
}

// Roster is a grade.Roster that can be seeded.
type Roster interface {
	grade.Roster
	SaveClass(ctx context.Context, c grade.Class) error
	SaveStudent(ctx context.Context, s grade.Student) error
	Enroll(ctx context.Context, classID, academicYear string, studentIDs ...string) error
}

// SeedClass saves a class and enrolls students for Year.
func SeedClass(t *testing.T, roster Roster, class grade.Class, students ...grade.Student) {
	t.Helper()
	ctx := context.Background()
	if err := roster.SaveClass(ctx, class); err != nil {
		t.Fatalf("SeedClass() failed: %v", err)
	}
	ids := make([]string, 0, len(students))
	for _, s := range students {
		if s.GuardianEmail == "" {
			s.GuardianEmail = "guardian." + s.ID + "@example.com"
		}
		if err := roster.SaveStudent(ctx, s); err != nil {
			t.Fatalf("SeedClass() failed: %v", err)
		}
		ids = append(ids, s.ID)
	}
	if err := roster.Enroll(ctx, class.ID, Year, ids...); err != nil {
		t.Fatalf("SeedClass() failed: %v", err)
	}
}

// Students returns n students named s1..sn.
func Students(n int) []grade.Student {
	out := make([]grade.Student, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("s%d", i)
		out = append(out, grade.Student{ID: id, Name: "Student " + id})
	}
	return out
}

func CreateSubject(t *testing.T, repo grade.SubjectRepository, classID, code, name, coef, teacherID string) grade.Subject {
	t.Helper()
	now := time.Now().UTC()
	sub, err := repo.CreateSubject(context.Background(), grade.Subject{
		ClassID:     classID,
		Code:        code,
		Name:        name,
		Coefficient: Dec(coef),
		Category:    grading.CategoryGeneral,
		Section:     grading.SectionGeneral,
		TeacherID:   teacherID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateSubject() failed: %v", err)
	}
	return sub
}

// Config returns the test configuration; it does not read the environment.
func Config() *core.Config {
	return &core.Config{
		Env:       "TEST",
		TestMode:  true,
		AppName:   "Masomo",
		SecretKey: "test-secret",
		Server: core.ServerConfig{
			Address:            ":0",
			ShutdownTimeout:    time.Second,
			DisableReqLogs:     true,
			JWTExpirationDelta: time.Hour,
		},
		Grading: core.GradingConfig{
			ContinuousWeight:   Dec("0.4"),
			ExamWeight:         Dec("0.6"),
			PromotionThreshold: Dec("10"),
		},
		Bulletin: core.BulletinConfig{SchoolName: "Institut Umoja", Language: "en"},
		Bulk:     core.BulkConfig{Concurrency: 4, ItemTimeout: 5 * time.Second},
		Notify: core.NotifyConfig{
			Channels:         []string{"mail"},
			DefaultFromName:  "Masomo",
			DefaultFromEmail: "noreply@masomo.test",
			MaxInFlight:      4,
		},
	}
}

// Fixture is the engine wired over the in-memory store with mocked collaborators.
type Fixture struct {
	Conf        *core.Config
	Validate    *validator.Validate
	Translator  ut.Translator
	Logger      core.Logger
	DB          *inmemdb.DB
	Roster      Roster
	Subjects    grade.SubjectRepository
	Grades      *grade.Service
	Results     *results.Service
	Bulletins   *bulletin.Service
	Coordinator *bulletin.Coordinator
	Renderer    *RendererMock
	Dispatcher  *DispatcherMock
}

func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	conf := Config()
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	logger := logsvc.NewNopLogger()
	policy, err := grading.NewPolicy(conf.Grading)
	if err != nil {
		t.Fatalf("NewFixture() failed: %v", err)
	}

	db := inmemdb.Open()
	f := &Fixture{
		Conf:       conf,
		Validate:   validate,
		Translator: translator,
		Logger:     logger,
		DB:         db,
		Roster:     inmemdb.NewRoster(db),
		Subjects:   inmemdb.NewSubjectRepository(db),
		Renderer:   &RendererMock{},
		Dispatcher: NewDispatcherMock(),
	}
	f.Grades = grade.NewService(inmemdb.NewGradeRepository(db), f.Subjects, f.Roster, nil, validate, translator, logger)
	f.Results = results.NewService(f.Grades, policy, logger)
	f.Bulletins = bulletin.NewService(inmemdb.NewBulletinRepository(db), f.Grades, f.Results, f.Renderer, conf.Bulletin, validate, translator, logger)
	f.Coordinator = bulletin.NewCoordinator(f.Bulletins, f.Dispatcher, f.Grades, conf.Bulk, conf.Notify, validate, translator, logger)
	return f
}

// Grade records both components of a subject as a director.
func (f *Fixture) Grade(t *testing.T, st grade.StudentTerm, subjectID, continuous, exam string) {
	t.Helper()
	_, err := f.Grades.Record(context.Background(), Director(), grade.NewGrade{
		StudentID:       st.StudentID,
		ClassID:         st.ClassID,
		AcademicYear:    st.AcademicYear,
		Term:            string(st.Term),
		SubjectID:       subjectID,
		ContinuousScore: DecPtr(continuous),
		ExamScore:       DecPtr(exam),
	})
	if err != nil {
		t.Fatalf("Grade() failed: %v", err)
	}
}

// Approved drafts, submits and approves the bulletin of st.
func (f *Fixture) Approved(t *testing.T, st grade.StudentTerm) bulletin.Bulletin {
	t.Helper()
	ctx := context.Background()
	b, err := f.Bulletins.Draft(ctx, Director(), st)
	if err == nil {
		b, err = f.Bulletins.Submit(ctx, Director(), b.ID)
	}
	if err == nil {
		b, err = f.Bulletins.Approve(ctx, Director(), b.ID)
	}
	if err != nil {
		t.Fatalf("Approved() failed: %v", err)
	}
	return b
}

// RendererMock stores nothing and returns a predictable reference.
type RendererMock struct {
	mu    sync.Mutex
	calls int
	Err   error
}

var _ bulletin.Renderer = (*RendererMock)(nil)

func (r *RendererMock) Render(_ context.Context, b bulletin.Bulletin, layout bulletin.Layout) (bulletin.DocumentRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return bulletin.DocumentRef{}, r.Err
	}
	r.calls++
	key := fmt.Sprintf("%s/%s.%s.html", b.AcademicYear, b.ID, layout.Language)
	return bulletin.DocumentRef{
		URL:         "https://docs.test/" + key,
		Key:         key,
		ContentType: "text/html; charset=utf-8",
		Layout:      layout,
		RenderedAt:  time.Now().UTC(),
	}, nil
}

func (r *RendererMock) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// DispatcherMock counts dispatches per bulletin; Fail makes a bulletin's dispatch fail.
type DispatcherMock struct {
	mu     sync.Mutex
	counts map[string]int
	fail   map[string]bool
	Delay  time.Duration
}

var _ bulletin.Dispatcher = (*DispatcherMock)(nil)

func NewDispatcherMock() *DispatcherMock {
	return &DispatcherMock{counts: make(map[string]int), fail: make(map[string]bool)}
}

func (d *DispatcherMock) Fail(bulletinID string, fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[bulletinID] = fail
}

func (d *DispatcherMock) Dispatch(ctx context.Context, n bulletin.Notice, channels []bulletin.Channel) (bulletin.DeliveryReport, error) {
	if d.Delay > 0 {
		select {
		case <-time.After(d.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[n.BulletinID] {
		return bulletin.DeliveryReport{bulletin.ChannelMail: {Failed: 1, Error: "gateway down"}}, core.ErrDownstreamUnavailable
	}
	d.counts[n.BulletinID]++
	report := make(bulletin.DeliveryReport, len(channels))
	for _, ch := range channels {
		report[ch] = bulletin.ChannelReport{Delivered: 1}
	}
	return report, nil
}

func (d *DispatcherMock) Count(bulletinID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[bulletinID]
}

// PrepareDB returns a migrated, empty PostgreSQL database.
// The test is skipped unless TEST_DATABASE_URL is set.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.OpenURL(dsn)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if err = database.Migrate(db.DB); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	_, err = db.Exec(`TRUNCATE bulletins, grade_components, ledger_revisions, subjects, enrollments, students, classes CASCADE`)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
