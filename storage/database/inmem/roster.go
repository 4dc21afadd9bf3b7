package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/masomo-bulletins/core/grade"
)

type roster struct {
	db *DB
}

var _ grade.Roster = (*roster)(nil) // interface compliance check

func NewRoster(db *DB) *roster {
	return &roster{db: db}
}

func (r *roster) GetClass(_ context.Context, id string) (grade.Class, error) {
	r.db.mutex.RLock()
	defer r.db.mutex.RUnlock()

	if c, ok := r.db.classes[id]; ok {
		return c, nil
	}
	return grade.Class{}, grade.ErrClassNotFound
}

func (r *roster) GetStudent(_ context.Context, id string) (grade.Student, error) {
	r.db.mutex.RLock()
	defer r.db.mutex.RUnlock()

	if s, ok := r.db.students[id]; ok {
		return s, nil
	}
	return grade.Student{}, grade.ErrStudentNotFound
}

func (r *roster) Enrolled(_ context.Context, classID, academicYear string) ([]string, error) {
	r.db.mutex.RLock()
	defer r.db.mutex.RUnlock()

	set := r.db.enrollments[enrollmentKey{classID: classID, academicYear: academicYear}]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Roster records are owned by the school administration; these are for seeding.

func (r *roster) SaveClass(_ context.Context, c grade.Class) error {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	r.db.classes[c.ID] = c
	return nil
}

func (r *roster) SaveStudent(_ context.Context, s grade.Student) error {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	r.db.students[s.ID] = s
	return nil
}

func (r *roster) Enroll(_ context.Context, classID, academicYear string, studentIDs ...string) error {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()

	key := enrollmentKey{classID: classID, academicYear: academicYear}
	set, ok := r.db.enrollments[key]
	if !ok {
		set = make(map[string]struct{}, len(studentIDs))
		r.db.enrollments[key] = set
	}
	for _, id := range studentIDs {
		set[id] = struct{}{}
	}
	return nil
}
