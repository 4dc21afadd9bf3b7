package grade_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
	testutil "github.com/trezcool/masomo-bulletins/tests"
)

func setup(t *testing.T) (*testutil.Fixture, grade.Subject) {
	f := testutil.NewFixture(t)
	testutil.SeedClass(t, f.Roster, grade.Class{ID: "c1", Name: "6A"}, testutil.Students(2)...)
	math := testutil.CreateSubject(t, f.Subjects, "c1", "MATH", "Mathematics", "4", "t-math")
	return f, math
}

func newGrade(subjectID string) grade.NewGrade {
	return grade.NewGrade{
		StudentID:    "s1",
		ClassID:      "c1",
		AcademicYear: testutil.Year,
		Term:         "T1",
		SubjectID:    subjectID,
	}
}

func TestRecord_Permissions(t *testing.T) {
	f, math := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   string
		wantErr error
	}{
		{name: "owning teacher", actor: "t-math"},
		{name: "other teacher", actor: "t-french", wantErr: core.ErrForbidden},
		{name: "director", actor: "director"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor := testutil.Teacher(tt.actor)
			if tt.actor == "director" {
				actor = testutil.Director()
			}
			ng := newGrade(math.ID)
			ng.Grade = testutil.DecPtr("14")

			comp, err := f.Grades.Record(ctx, actor, ng)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, actor.ID, comp.UpdatedBy)
		})
	}
}

func TestRecord_Validation(t *testing.T) {
	f, math := setup(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		edit  func(ng *grade.NewGrade)
		field string
	}{
		{name: "score above 20", edit: func(ng *grade.NewGrade) { ng.Grade = testutil.DecPtr("20.5") }, field: "grade"},
		{name: "negative score", edit: func(ng *grade.NewGrade) { ng.ExamScore = testutil.DecPtr("-1") }, field: "exam_score"},
		{name: "barely above 20", edit: func(ng *grade.NewGrade) { ng.ContinuousScore = testutil.DecPtr("20.0000001") }, field: "continuous_score"},
		{name: "no score", edit: func(ng *grade.NewGrade) {}, field: "grade"},
		{name: "unknown term", edit: func(ng *grade.NewGrade) { ng.Term = "T4"; ng.Grade = testutil.DecPtr("10") }, field: "term"},
		{name: "bad year", edit: func(ng *grade.NewGrade) { ng.AcademicYear = "2024-2026"; ng.Grade = testutil.DecPtr("10") }, field: "academic_year"},
		{name: "zero coefficient", edit: func(ng *grade.NewGrade) { ng.Grade = testutil.DecPtr("10"); ng.Coefficient = testutil.DecPtr("0") }, field: "coefficient"},
		{name: "not enrolled", edit: func(ng *grade.NewGrade) { ng.StudentID = "s9"; ng.Grade = testutil.DecPtr("10") }, field: "student_id"},
		{name: "unknown subject", edit: func(ng *grade.NewGrade) { ng.SubjectID = "nope"; ng.Grade = testutil.DecPtr("10") }, field: "subject_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ng := newGrade(math.ID)
			tt.edit(&ng)

			_, err := f.Grades.Record(ctx, testutil.Director(), ng)
			var vErr *core.ValidationError
			if assert.ErrorAs(t, err, &vErr) && assert.NotEmpty(t, vErr.Fields) {
				assert.Equal(t, tt.field, vErr.Fields[0].Field)
			}
		})
	}
}

func TestRecord_PartialWritesKeepOtherComponent(t *testing.T) {
	f, math := setup(t)
	ctx := context.Background()
	st := testutil.StudentTerm("s1", "c1", grade.TermT1)

	ng := newGrade(math.ID)
	ng.Grade, ng.Component = testutil.DecPtr("12"), grade.ComponentContinuous
	_, err := f.Grades.Record(ctx, testutil.Director(), ng)
	require.NoError(t, err)

	ng = newGrade(math.ID)
	ng.Grade = testutil.DecPtr("15") // exam by default
	comp, err := f.Grades.Record(ctx, testutil.Director(), ng)
	require.NoError(t, err)

	assert.True(t, comp.ContinuousScore.Equal(testutil.Dec("12")))
	assert.True(t, comp.ExamScore.Equal(testutil.Dec("15")))
	assert.True(t, comp.Coefficient.Equal(testutil.Dec("4")), "coefficient defaults to the subject's")

	snap, err := f.Grades.Snapshot(ctx, st)
	require.NoError(t, err)
	assert.EqualValues(t, 2, snap.Revision)
	assert.Len(t, snap.Components, 1)
}

func TestRecord_LastWriteWins(t *testing.T) {
	f, math := setup(t)
	ctx := context.Background()

	for _, score := range []string{"8", "11.5"} {
		ng := newGrade(math.ID)
		ng.ExamScore = testutil.DecPtr(score)
		_, err := f.Grades.Record(ctx, testutil.Teacher("t-math"), ng)
		require.NoError(t, err)
	}
	comp, err := f.Grades.GetComponent(ctx, newGrade(math.ID).Key())
	require.NoError(t, err)
	assert.Equal(t, "11.5", comp.ExamScore.String())
	assert.Nil(t, comp.ContinuousScore)
}

func TestSubjects(t *testing.T) {
	f, math := setup(t)
	ctx := context.Background()

	t.Run("teachers cannot manage subjects", func(t *testing.T) {
		_, err := f.Grades.CreateSubject(ctx, testutil.Teacher("t-math"), grade.NewSubject{})
		assert.ErrorIs(t, err, core.ErrForbidden)
	})

	t.Run("similar names are rejected", func(t *testing.T) {
		_, err := f.Grades.CreateSubject(ctx, testutil.Director(), grade.NewSubject{
			ClassID: "c1", Name: "Mathematic", Code: "MATH2", Coefficient: testutil.Dec("2"),
		})
		var vErr *core.ValidationError
		if assert.ErrorAs(t, err, &vErr) {
			assert.Equal(t, "name", vErr.Fields[0].Field)
		}
	})

	t.Run("duplicate codes are rejected", func(t *testing.T) {
		_, err := f.Grades.CreateSubject(ctx, testutil.Director(), grade.NewSubject{
			ClassID: "c1", Name: "Algebra", Code: "math", Coefficient: testutil.Dec("2"),
		})
		var vErr *core.ValidationError
		if assert.ErrorAs(t, err, &vErr) {
			assert.Equal(t, "code", vErr.Fields[0].Field)
		}
	})

	t.Run("create with explicit category", func(t *testing.T) {
		sub, err := f.Grades.CreateSubject(ctx, testutil.Director(), grade.NewSubject{
			ClassID: "c1", Name: "Carpentry", Code: "CARP", Coefficient: testutil.Dec("3"), Category: "professional",
		})
		require.NoError(t, err)
		assert.Equal(t, grading.CategoryProfessional, sub.Category)
		assert.Equal(t, grading.SectionProfessional, sub.Section)
	})

	t.Run("update coefficient", func(t *testing.T) {
		coef := testutil.Dec("5")
		sub, err := f.Grades.UpdateSubject(ctx, testutil.Director(), math.ID, grade.UpdateSubject{Coefficient: &coef})
		require.NoError(t, err)
		assert.True(t, sub.Coefficient.Equal(coef))
		assert.True(t, sub.UpdatedAt.After(math.UpdatedAt) || sub.UpdatedAt.Equal(math.UpdatedAt))
	})
}
