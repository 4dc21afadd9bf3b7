package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
)

type bulletinRepository struct {
	db *DB
}

var _ bulletin.Repository = (*bulletinRepository)(nil) // interface compliance check

func NewBulletinRepository(db *DB) *bulletinRepository {
	return &bulletinRepository{db: db}
}

func (repo *bulletinRepository) CreateBulletin(_ context.Context, b bulletin.Bulletin) (bulletin.Bulletin, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.keys[b.StudentTerm]; ok {
		return bulletin.Bulletin{}, bulletin.ErrKeyExists
	}
	b.ID = uuid.New().String()
	b.Version = 1
	b = cloneBulletin(b)
	repo.db.bulletins[b.ID] = b
	repo.db.keys[b.StudentTerm] = b.ID
	return cloneBulletin(b), nil
}

func (repo *bulletinRepository) GetBulletin(_ context.Context, id string) (bulletin.Bulletin, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if b, ok := repo.db.bulletins[id]; ok {
		return cloneBulletin(b), nil
	}
	return bulletin.Bulletin{}, bulletin.ErrNotFound
}

func (repo *bulletinRepository) GetBulletinByKey(_ context.Context, st grade.StudentTerm) (bulletin.Bulletin, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if id, ok := repo.db.keys[st]; ok {
		return cloneBulletin(repo.db.bulletins[id]), nil
	}
	return bulletin.Bulletin{}, bulletin.ErrNotFound
}

func (repo *bulletinRepository) QueryBulletins(_ context.Context, filter *bulletin.QueryFilter, ordering []core.DBOrdering) ([]bulletin.Bulletin, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	bulletins := make([]bulletin.Bulletin, 0)
	for _, b := range repo.db.bulletins {
		if filter == nil || filter.Match(b) {
			bulletins = append(bulletins, cloneBulletin(b))
		}
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	sort.SliceStable(bulletins, func(i, j int) bool {
		for _, ord := range ordering {
			c := compareBulletins(bulletins[i], bulletins[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return bulletins[i].ID < bulletins[j].ID
	})
	return bulletins, nil
}

func compareBulletins(a, b bulletin.Bulletin, field string) int {
	switch field {
	case "student_id":
		return strings.Compare(a.StudentID, b.StudentID)
	case "term":
		return strings.Compare(string(a.Term), string(b.Term))
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "term_average":
		return a.TermAverage.Cmp(b.TermAverage)
	case "class_rank":
		return a.ClassRank - b.ClassRank
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (repo *bulletinRepository) TransitionBulletin(_ context.Context, b bulletin.Bulletin, from bulletin.Status) (bulletin.Bulletin, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cur, ok := repo.db.bulletins[b.ID]
	if !ok {
		return bulletin.Bulletin{}, bulletin.ErrNotFound
	}
	if cur.Status != from || cur.Version != b.Version {
		return bulletin.Bulletin{}, bulletin.ErrStatusChanged
	}
	b.Version++
	// the key and creation data are immutable
	b.StudentTerm = cur.StudentTerm
	b.CreatedAt = cur.CreatedAt
	b.CreatedBy = cur.CreatedBy
	repo.db.bulletins[b.ID] = cloneBulletin(b)
	return cloneBulletin(b), nil
}
