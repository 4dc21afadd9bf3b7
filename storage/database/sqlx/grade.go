package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-bulletins/core/grade"
)

type componentRow struct {
	StudentID       string              `db:"student_id"`
	SubjectID       string              `db:"subject_id"`
	ClassID         string              `db:"class_id"`
	AcademicYear    string              `db:"academic_year"`
	Term            string              `db:"term"`
	ContinuousScore decimal.NullDecimal `db:"continuous_score"`
	ExamScore       decimal.NullDecimal `db:"exam_score"`
	Coefficient     decimal.Decimal     `db:"coefficient"`
	Comment         null.String         `db:"comment"`
	UpdatedBy       string              `db:"updated_by"`
	UpdatedAt       time.Time           `db:"updated_at"`
}

func toComponentRow(c grade.Component) componentRow {
	row := componentRow{
		StudentID:    c.StudentID,
		SubjectID:    c.SubjectID,
		ClassID:      c.ClassID,
		AcademicYear: c.AcademicYear,
		Term:         string(c.Term),
		Coefficient:  c.Coefficient,
		Comment:      null.NewString(c.Comment, c.Comment != ""),
		UpdatedBy:    c.UpdatedBy,
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
	if c.ContinuousScore != nil {
		row.ContinuousScore = decimal.NewNullDecimal(*c.ContinuousScore)
	}
	if c.ExamScore != nil {
		row.ExamScore = decimal.NewNullDecimal(*c.ExamScore)
	}
	return row
}

func (row componentRow) component() grade.Component {
	c := grade.Component{
		Key: grade.Key{
			StudentID:    row.StudentID,
			SubjectID:    row.SubjectID,
			ClassID:      row.ClassID,
			AcademicYear: row.AcademicYear,
			Term:         grade.Term(row.Term),
		},
		Coefficient: row.Coefficient,
		Comment:     row.Comment.String,
		UpdatedBy:   row.UpdatedBy,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.ContinuousScore.Valid {
		cc := row.ContinuousScore.Decimal
		c.ContinuousScore = &cc
	}
	if row.ExamScore.Valid {
		exam := row.ExamScore.Decimal
		c.ExamScore = &exam
	}
	return c
}

type gradeRepository struct {
	db *sqlx.DB
}

var _ grade.Repository = (*gradeRepository)(nil) // interface compliance check

func NewGradeRepository(db *sqlx.DB) *gradeRepository {
	return &gradeRepository{db: db}
}

const (
	upsertComponentQuery = `
INSERT INTO grade_components (student_id, subject_id, class_id, academic_year, term,
                              continuous_score, exam_score, coefficient, comment, updated_by, updated_at)
VALUES (:student_id, :subject_id, :class_id, :academic_year, :term,
        :continuous_score, :exam_score, :coefficient, :comment, :updated_by, :updated_at)
ON CONFLICT (student_id, subject_id, class_id, academic_year, term) DO UPDATE
SET continuous_score = EXCLUDED.continuous_score,
    exam_score       = EXCLUDED.exam_score,
    coefficient      = EXCLUDED.coefficient,
    comment          = EXCLUDED.comment,
    updated_by       = EXCLUDED.updated_by,
    updated_at       = EXCLUDED.updated_at`

	bumpRevisionQuery = `
INSERT INTO ledger_revisions (student_id, class_id, academic_year, term, revision)
VALUES ($1, $2, $3, $4, 1)
ON CONFLICT (student_id, class_id, academic_year, term) DO UPDATE
SET revision = ledger_revisions.revision + 1`

	componentColumns = `student_id, subject_id, class_id, academic_year, term,
continuous_score, exam_score, coefficient, comment, updated_by, updated_at`
)

// UpsertComponent writes the component and bumps the student term revision in one transaction.
func (repo *gradeRepository) UpsertComponent(ctx context.Context, c grade.Component) (grade.Component, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return grade.Component{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.NamedExecContext(ctx, upsertComponentQuery, toComponentRow(c)); err != nil {
		return grade.Component{}, errors.Wrap(err, "upserting grade component")
	}
	if _, err = tx.ExecContext(ctx, bumpRevisionQuery, c.StudentID, c.ClassID, c.AcademicYear, string(c.Term)); err != nil {
		return grade.Component{}, errors.Wrap(err, "bumping ledger revision")
	}
	if err = tx.Commit(); err != nil {
		return grade.Component{}, errors.Wrap(err, "committing grade component")
	}
	return c, nil
}

func (repo *gradeRepository) GetComponent(ctx context.Context, key grade.Key) (grade.Component, error) {
	var row componentRow
	q := `SELECT ` + componentColumns + ` FROM grade_components
WHERE student_id = $1 AND subject_id = $2 AND class_id = $3 AND academic_year = $4 AND term = $5`
	err := repo.db.GetContext(ctx, &row, q, key.StudentID, key.SubjectID, key.ClassID, key.AcademicYear, string(key.Term))
	if err != nil {
		return grade.Component{}, trapNoRowsErr(err, grade.ErrComponentNotFound, "getting grade component")
	}
	return row.component(), nil
}

// Snapshot reads the revision and the components in one repeatable-read transaction.
func (repo *gradeRepository) Snapshot(ctx context.Context, st grade.StudentTerm) (grade.Snapshot, error) {
	tx, err := repo.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return grade.Snapshot{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	snap := grade.Snapshot{StudentTerm: st}
	err = tx.GetContext(ctx, &snap.Revision, `SELECT revision FROM ledger_revisions
WHERE student_id = $1 AND class_id = $2 AND academic_year = $3 AND term = $4`,
		st.StudentID, st.ClassID, st.AcademicYear, string(st.Term))
	if err != nil && err != sql.ErrNoRows {
		return grade.Snapshot{}, errors.Wrap(err, "reading ledger revision")
	}

	var rows []componentRow
	q := `SELECT ` + componentColumns + ` FROM grade_components
WHERE student_id = $1 AND class_id = $2 AND academic_year = $3 AND term = $4
ORDER BY subject_id`
	if err = tx.SelectContext(ctx, &rows, q, st.StudentID, st.ClassID, st.AcademicYear, string(st.Term)); err != nil {
		return grade.Snapshot{}, errors.Wrap(err, "reading grade components")
	}
	for _, row := range rows {
		snap.Components = append(snap.Components, row.component())
	}
	return snap, errors.Wrap(tx.Commit(), "committing snapshot")
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}
