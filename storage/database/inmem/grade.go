package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-bulletins/core/grade"
)

type gradeRepository struct {
	db *DB
}

var _ grade.Repository = (*gradeRepository)(nil) // interface compliance check

func NewGradeRepository(db *DB) *gradeRepository {
	return &gradeRepository{db: db}
}

func (repo *gradeRepository) UpsertComponent(_ context.Context, c grade.Component) (grade.Component, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.components[c.Key] = c
	repo.db.revisions[c.StudentTerm()]++
	return c, nil
}

func (repo *gradeRepository) GetComponent(_ context.Context, key grade.Key) (grade.Component, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if c, ok := repo.db.components[key]; ok {
		return c, nil
	}
	return grade.Component{}, grade.ErrComponentNotFound
}

func (repo *gradeRepository) Snapshot(_ context.Context, st grade.StudentTerm) (grade.Snapshot, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	snap := grade.Snapshot{StudentTerm: st, Revision: repo.db.revisions[st]}
	for key, c := range repo.db.components {
		if key.StudentTerm() == st {
			snap.Components = append(snap.Components, c)
		}
	}
	sort.Slice(snap.Components, func(i, j int) bool { return snap.Components[i].SubjectID < snap.Components[j].SubjectID })
	return snap, nil
}

type subjectRepository struct {
	db *DB
}

var _ grade.SubjectRepository = (*subjectRepository)(nil) // interface compliance check

func NewSubjectRepository(db *DB) *subjectRepository {
	return &subjectRepository{db: db}
}

func (repo *subjectRepository) CreateSubject(_ context.Context, sub grade.Subject) (grade.Subject, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	repo.db.subjects[sub.ID] = sub
	return sub, nil
}

func (repo *subjectRepository) GetSubject(_ context.Context, id string) (grade.Subject, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if sub, ok := repo.db.subjects[id]; ok {
		return sub, nil
	}
	return grade.Subject{}, grade.ErrSubjectNotFound
}

func (repo *subjectRepository) UpdateSubject(_ context.Context, sub grade.Subject) (grade.Subject, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.subjects[sub.ID]; !ok {
		return grade.Subject{}, grade.ErrSubjectNotFound
	}
	repo.db.subjects[sub.ID] = sub
	return sub, nil
}

func (repo *subjectRepository) QueryClassSubjects(_ context.Context, classID string) ([]grade.Subject, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	subjects := make([]grade.Subject, 0)
	for _, sub := range repo.db.subjects {
		if sub.ClassID == classID {
			subjects = append(subjects, sub)
		}
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].Name < subjects[j].Name })
	return subjects, nil
}
