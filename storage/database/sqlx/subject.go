package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
)

type subjectRow struct {
	ID          string          `db:"id"`
	ClassID     string          `db:"class_id"`
	Name        string          `db:"name"`
	Code        string          `db:"code"`
	Coefficient decimal.Decimal `db:"coefficient"`
	WeeklyHours int             `db:"weekly_hours"`
	Category    string          `db:"category"`
	Section     null.String     `db:"section"`
	TeacherID   null.String     `db:"teacher_id"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func toSubjectRow(s grade.Subject) subjectRow {
	return subjectRow{
		ID:          s.ID,
		ClassID:     s.ClassID,
		Name:        s.Name,
		Code:        s.Code,
		Coefficient: s.Coefficient,
		WeeklyHours: s.WeeklyHours,
		Category:    string(s.Category),
		Section:     null.NewString(s.Section, s.Section != ""),
		TeacherID:   null.NewString(s.TeacherID, s.TeacherID != ""),
		CreatedAt:   s.CreatedAt.UTC(),
		UpdatedAt:   s.UpdatedAt.UTC(),
	}
}

func (row subjectRow) subject() grade.Subject {
	return grade.Subject{
		ID:          row.ID,
		ClassID:     row.ClassID,
		Name:        row.Name,
		Code:        row.Code,
		Coefficient: row.Coefficient,
		WeeklyHours: row.WeeklyHours,
		Category:    grading.Category(row.Category),
		Section:     row.Section.String,
		TeacherID:   row.TeacherID.String,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

type subjectRepository struct {
	db *sqlx.DB
}

var _ grade.SubjectRepository = (*subjectRepository)(nil) // interface compliance check

func NewSubjectRepository(db *sqlx.DB) *subjectRepository {
	return &subjectRepository{db: db}
}

const subjectColumns = `id, class_id, name, code, coefficient, weekly_hours, category, section, teacher_id, created_at, updated_at`

func (repo *subjectRepository) CreateSubject(ctx context.Context, sub grade.Subject) (grade.Subject, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	q := `INSERT INTO subjects (` + subjectColumns + `)
VALUES (:id, :class_id, :name, :code, :coefficient, :weekly_hours, :category, :section, :teacher_id, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, toSubjectRow(sub)); err != nil {
		return grade.Subject{}, errors.Wrap(err, "inserting subject")
	}
	return sub, nil
}

func (repo *subjectRepository) GetSubject(ctx context.Context, id string) (grade.Subject, error) {
	if _, err := uuid.Parse(id); err != nil {
		return grade.Subject{}, grade.ErrSubjectNotFound
	}
	var row subjectRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+subjectColumns+` FROM subjects WHERE id = $1`, id); err != nil {
		return grade.Subject{}, trapNoRowsErr(err, grade.ErrSubjectNotFound, "getting subject")
	}
	return row.subject(), nil
}

func (repo *subjectRepository) UpdateSubject(ctx context.Context, sub grade.Subject) (grade.Subject, error) {
	q := `UPDATE subjects
SET name = :name, coefficient = :coefficient, weekly_hours = :weekly_hours,
    section = :section, teacher_id = :teacher_id, updated_at = :updated_at
WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, toSubjectRow(sub))
	if err != nil {
		return grade.Subject{}, errors.Wrap(err, "updating subject")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return grade.Subject{}, grade.ErrSubjectNotFound
	}
	return sub, nil
}

func (repo *subjectRepository) QueryClassSubjects(ctx context.Context, classID string) ([]grade.Subject, error) {
	var rows []subjectRow
	q := `SELECT ` + subjectColumns + ` FROM subjects WHERE class_id = $1 ORDER BY name`
	if err := repo.db.SelectContext(ctx, &rows, q, classID); err != nil {
		return nil, errors.Wrap(err, "querying class subjects")
	}
	subjects := make([]grade.Subject, 0, len(rows))
	for _, row := range rows {
		subjects = append(subjects, row.subject())
	}
	return subjects, nil
}
