package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-bulletins/core/grade"
)

type roster struct {
	db *sqlx.DB
}

var _ grade.Roster = (*roster)(nil) // interface compliance check

func NewRoster(db *sqlx.DB) *roster {
	return &roster{db: db}
}

func (r *roster) GetClass(ctx context.Context, id string) (grade.Class, error) {
	var row struct {
		ID    string      `db:"id"`
		Name  string      `db:"name"`
		Level null.String `db:"level"`
	}
	if err := r.db.GetContext(ctx, &row, `SELECT id, name, level FROM classes WHERE id = $1`, id); err != nil {
		return grade.Class{}, trapNoRowsErr(err, grade.ErrClassNotFound, "getting class")
	}
	return grade.Class{ID: row.ID, Name: row.Name, Level: row.Level.String}, nil
}

func (r *roster) GetStudent(ctx context.Context, id string) (grade.Student, error) {
	var row struct {
		ID            string      `db:"id"`
		Name          string      `db:"name"`
		GuardianEmail null.String `db:"guardian_email"`
		GuardianPhone null.String `db:"guardian_phone"`
	}
	q := `SELECT id, name, guardian_email, guardian_phone FROM students WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		return grade.Student{}, trapNoRowsErr(err, grade.ErrStudentNotFound, "getting student")
	}
	return grade.Student{
		ID:            row.ID,
		Name:          row.Name,
		GuardianEmail: row.GuardianEmail.String,
		GuardianPhone: row.GuardianPhone.String,
	}, nil
}

func (r *roster) Enrolled(ctx context.Context, classID, academicYear string) ([]string, error) {
	ids := make([]string, 0)
	q := `SELECT student_id FROM enrollments WHERE class_id = $1 AND academic_year = $2 ORDER BY student_id`
	if err := r.db.SelectContext(ctx, &ids, q, classID, academicYear); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	return ids, nil
}

// Roster records are owned by the school administration; these are for seeding.

func (r *roster) SaveClass(ctx context.Context, c grade.Class) error {
	q := `INSERT INTO classes (id, name, level) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, level = EXCLUDED.level`
	_, err := r.db.ExecContext(ctx, q, c.ID, c.Name, null.NewString(c.Level, c.Level != ""))
	return errors.Wrap(err, "saving class")
}

func (r *roster) SaveStudent(ctx context.Context, s grade.Student) error {
	q := `INSERT INTO students (id, name, guardian_email, guardian_phone) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, guardian_email = EXCLUDED.guardian_email, guardian_phone = EXCLUDED.guardian_phone`
	_, err := r.db.ExecContext(ctx, q, s.ID, s.Name,
		null.NewString(s.GuardianEmail, s.GuardianEmail != ""), null.NewString(s.GuardianPhone, s.GuardianPhone != ""))
	return errors.Wrap(err, "saving student")
}

func (r *roster) Enroll(ctx context.Context, classID, academicYear string, studentIDs ...string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	q := `INSERT INTO enrollments (class_id, academic_year, student_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	for _, id := range studentIDs {
		if _, err = tx.ExecContext(ctx, q, classID, academicYear, id); err != nil {
			return errors.Wrap(err, "enrolling student")
		}
	}
	return errors.Wrap(tx.Commit(), "committing enrollments")
}
