package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
)

type (
	// DB is a process-local store. One lock guards every table so a ledger snapshot
	// never observes half of a write.
	DB struct {
		mutex sync.RWMutex

		components  map[grade.Key]grade.Component
		revisions   map[grade.StudentTerm]int64
		subjects    map[string]grade.Subject
		classes     map[string]grade.Class
		students    map[string]grade.Student
		enrollments map[enrollmentKey]map[string]struct{}
		bulletins   map[string]bulletin.Bulletin
		keys        map[grade.StudentTerm]string // bulletin id by student term
	}

	enrollmentKey struct {
		classID      string
		academicYear string
	}
)

func Open() *DB {
	return &DB{
		components:  make(map[grade.Key]grade.Component),
		revisions:   make(map[grade.StudentTerm]int64),
		subjects:    make(map[string]grade.Subject),
		classes:     make(map[string]grade.Class),
		students:    make(map[string]grade.Student),
		enrollments: make(map[enrollmentKey]map[string]struct{}),
		bulletins:   make(map[string]bulletin.Bulletin),
		keys:        make(map[grade.StudentTerm]string),
	}
}

// Reset drops every record.
func (db *DB) Reset() {
	fresh := Open()
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.components = fresh.components
	db.revisions = fresh.revisions
	db.subjects = fresh.subjects
	db.classes = fresh.classes
	db.students = fresh.students
	db.enrollments = fresh.enrollments
	db.bulletins = fresh.bulletins
	db.keys = fresh.keys
}

func cloneBulletin(b bulletin.Bulletin) bulletin.Bulletin {
	b.Rows = append([]grading.SubjectLine(nil), b.Rows...)
	b.Excluded = append([]string(nil), b.Excluded...)
	b.History = append([]bulletin.Transition(nil), b.History...)
	if b.Delivery != nil {
		delivery := make(bulletin.DeliveryReport, len(b.Delivery))
		for k, v := range b.Delivery {
			delivery[k] = v
		}
		b.Delivery = delivery
	}
	if b.Annual != nil {
		annual := *b.Annual
		b.Annual = &annual
	}
	return b
}
