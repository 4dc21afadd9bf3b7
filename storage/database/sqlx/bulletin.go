package sqlxrepos

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
)

// bulletinRow keeps the queried fields in columns and the frozen snapshot in `data`.
type bulletinRow struct {
	ID           string          `db:"id"`
	StudentID    string          `db:"student_id"`
	ClassID      string          `db:"class_id"`
	AcademicYear string          `db:"academic_year"`
	Term         string          `db:"term"`
	Status       string          `db:"status"`
	TermAverage  decimal.Decimal `db:"term_average"`
	ClassRank    null.Int        `db:"class_rank"`
	ClassSize    int             `db:"class_size"`
	Signed       bool            `db:"signed"`
	SendFailed   bool            `db:"send_failed"`
	Data         []byte          `db:"data"`
	CreatedBy    string          `db:"created_by"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
	SentAt       null.Time       `db:"sent_at"`
	Version      int64           `db:"version"`
}

func toBulletinRow(b bulletin.Bulletin) (bulletinRow, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return bulletinRow{}, errors.Wrap(err, "encoding bulletin")
	}
	row := bulletinRow{
		ID:           b.ID,
		StudentID:    b.StudentID,
		ClassID:      b.ClassID,
		AcademicYear: b.AcademicYear,
		Term:         string(b.Term),
		Status:       string(b.Status),
		TermAverage:  b.TermAverage,
		ClassRank:    null.NewInt(b.ClassRank, b.ClassRank > 0),
		ClassSize:    b.ClassSize,
		Signed:       b.IsSigned(),
		SendFailed:   b.SendFailure != nil,
		Data:         data,
		CreatedBy:    b.CreatedBy,
		CreatedAt:    b.CreatedAt.UTC(),
		UpdatedAt:    b.UpdatedAt.UTC(),
		Version:      b.Version,
	}
	if b.SentAt != nil {
		row.SentAt = null.TimeFrom(b.SentAt.UTC())
	}
	return row, nil
}

func (row bulletinRow) bulletin() (bulletin.Bulletin, error) {
	var b bulletin.Bulletin
	if err := json.Unmarshal(row.Data, &b); err != nil {
		return bulletin.Bulletin{}, errors.Wrap(err, "decoding bulletin")
	}
	// columns are authoritative
	b.ID = row.ID
	b.StudentTerm = grade.StudentTerm{
		StudentID:    row.StudentID,
		ClassID:      row.ClassID,
		AcademicYear: row.AcademicYear,
		Term:         grade.Term(row.Term),
	}
	b.Status = bulletin.Status(row.Status)
	b.Version = row.Version
	return b, nil
}

type bulletinRepository struct {
	db *sqlx.DB
}

var _ bulletin.Repository = (*bulletinRepository)(nil) // interface compliance check

func NewBulletinRepository(db *sqlx.DB) *bulletinRepository {
	return &bulletinRepository{db: db}
}

const bulletinColumns = `id, student_id, class_id, academic_year, term, status, term_average, class_rank, class_size,
signed, send_failed, data, created_by, created_at, updated_at, sent_at, version`

func (repo *bulletinRepository) CreateBulletin(ctx context.Context, b bulletin.Bulletin) (bulletin.Bulletin, error) {
	b.ID = uuid.New().String()
	b.Version = 1
	row, err := toBulletinRow(b)
	if err != nil {
		return bulletin.Bulletin{}, err
	}
	q := `INSERT INTO bulletins (` + bulletinColumns + `)
VALUES (:id, :student_id, :class_id, :academic_year, :term, :status, :term_average, :class_rank, :class_size,
        :signed, :send_failed, :data, :created_by, :created_at, :updated_at, :sent_at, :version)`
	if _, err = repo.db.NamedExecContext(ctx, q, row); err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return bulletin.Bulletin{}, bulletin.ErrKeyExists
		}
		return bulletin.Bulletin{}, errors.Wrap(err, "inserting bulletin")
	}
	return b, nil
}

func (repo *bulletinRepository) get(ctx context.Context, where string, args ...interface{}) (bulletin.Bulletin, error) {
	var row bulletinRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+bulletinColumns+` FROM bulletins WHERE `+where, args...); err != nil {
		return bulletin.Bulletin{}, trapNoRowsErr(err, bulletin.ErrNotFound, "getting bulletin")
	}
	return row.bulletin()
}

func (repo *bulletinRepository) GetBulletin(ctx context.Context, id string) (bulletin.Bulletin, error) {
	if _, err := uuid.Parse(id); err != nil {
		return bulletin.Bulletin{}, bulletin.ErrNotFound
	}
	return repo.get(ctx, `id = $1`, id)
}

func (repo *bulletinRepository) GetBulletinByKey(ctx context.Context, st grade.StudentTerm) (bulletin.Bulletin, error) {
	return repo.get(ctx, `student_id = $1 AND class_id = $2 AND academic_year = $3 AND term = $4`,
		st.StudentID, st.ClassID, st.AcademicYear, string(st.Term))
}

func (repo *bulletinRepository) QueryBulletins(ctx context.Context, filter *bulletin.QueryFilter, ordering []core.DBOrdering) ([]bulletin.Bulletin, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if filter != nil {
		if filter.StudentID != "" {
			arg("student_id = ?", filter.StudentID)
		}
		if filter.ClassID != "" {
			arg("class_id = ?", filter.ClassID)
		}
		if filter.AcademicYear != "" {
			arg("academic_year = ?", filter.AcademicYear)
		}
		if filter.Term != "" {
			arg("term = ?", filter.Term)
		}
		if len(filter.Statuses) > 0 {
			arg("status = ANY(?)", pq.Array(filter.Statuses))
		}
		if filter.Signed != nil {
			arg("signed = ?", *filter.Signed)
		}
		if filter.SendFailed != nil {
			arg("send_failed = ?", *filter.SendFailed)
		}
	}

	q := `SELECT ` + bulletinColumns + ` FROM bulletins`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	orderBy := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		orderBy = append(orderBy, ord.String())
	}
	q += ` ORDER BY ` + strings.Join(append(orderBy, "id ASC"), ", ")

	var rows []bulletinRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying bulletins")
	}
	bulletins := make([]bulletin.Bulletin, 0, len(rows))
	for _, row := range rows {
		b, err := row.bulletin()
		if err != nil {
			return nil, err
		}
		bulletins = append(bulletins, b)
	}
	return bulletins, nil
}

// TransitionBulletin is a compare-and-swap on the stored status and version.
func (repo *bulletinRepository) TransitionBulletin(ctx context.Context, b bulletin.Bulletin, from bulletin.Status) (bulletin.Bulletin, error) {
	expected := b.Version
	b.Version++
	row, err := toBulletinRow(b)
	if err != nil {
		return bulletin.Bulletin{}, err
	}
	q := `UPDATE bulletins
SET status = $4, term_average = $5, class_rank = $6, class_size = $7, signed = $8, send_failed = $9, data = $10,
    updated_at = $11, sent_at = $12, version = $13
WHERE id = $1 AND status = $2 AND version = $3`
	res, err := repo.db.ExecContext(ctx, q, row.ID, string(from), expected, row.Status, row.TermAverage, row.ClassRank,
		row.ClassSize, row.Signed, row.SendFailed, row.Data, row.UpdatedAt, row.SentAt, row.Version)
	if err != nil {
		return bulletin.Bulletin{}, errors.Wrap(err, "updating bulletin")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return bulletin.Bulletin{}, errors.Wrap(err, "updating bulletin")
	}
	if n == 0 {
		if _, err = repo.GetBulletin(ctx, b.ID); err != nil {
			return bulletin.Bulletin{}, err
		}
		return bulletin.Bulletin{}, bulletin.ErrStatusChanged
	}
	return b, nil
}
