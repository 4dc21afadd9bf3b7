package rendersvc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
	logsvc "github.com/trezcool/masomo-bulletins/services/logger"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func sampleBulletin(term grade.Term) bulletin.Bulletin {
	return bulletin.Bulletin{
		ID: "b1",
		StudentTerm: grade.StudentTerm{
			StudentID: "s1", ClassID: "c1", AcademicYear: "2024-2025", Term: term,
		},
		Status:   bulletin.StatusApproved,
		Identity: bulletin.Identity{SchoolName: "Institut Umoja", StudentName: "Amani Kabila", ClassName: "6A"},
		Rows: []grading.SubjectLine{
			{
				SubjectID: "math", SubjectName: "Mathematics", Category: grading.CategoryScientific,
				ContinuousScore: decPtr("12"), ExamScore: decPtr("15"), Score: dec("13.8"),
				Coefficient: dec("4"), Weighted: dec("55.2"), Remark: grading.RemarkFairlyGood,
			},
			{
				SubjectID: "wood", SubjectName: "Woodwork", Category: grading.CategoryProfessional,
				ExamScore: decPtr("16"), Score: dec("16"),
				Coefficient: dec("2"), Weighted: dec("32"), Remark: grading.RemarkExcellent,
			},
		},
		TermAverage: dec("14.5333"),
		ClassRank:   2,
		ClassSize:   30,
		Signature: &bulletin.Signature{
			SignerID: "d1", SignerName: "Mme Furaha", SignerRole: "Principal",
			SignedAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func newTestRenderer(t *testing.T) (*Renderer, string) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "https://docs.test")
	require.NoError(t, err)
	r, err := NewRenderer(store, core.BulletinConfig{Language: "fr"}, logsvc.NewNopLogger())
	require.NoError(t, err)
	return r, dir
}

func TestRender_Term(t *testing.T) {
	r, dir := newTestRenderer(t)
	b := sampleBulletin(grade.TermT1)

	doc, err := r.Render(context.Background(), b, bulletin.LayoutFor(b, "en"))
	require.NoError(t, err)
	assert.Equal(t, "2024-2025/c1/T1/b1.en.html", doc.Key)
	assert.Equal(t, "https://docs.test/2024-2025/c1/T1/b1.en.html", doc.URL)
	assert.Equal(t, bulletin.TemplateTerm, doc.Layout.Template)

	content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(doc.Key)))
	require.NoError(t, err)
	html := string(content)
	assert.Contains(t, html, "First term")
	assert.Contains(t, html, "General subjects")
	assert.Contains(t, html, "Professional subjects")
	assert.Contains(t, html, "14.53/20")
	assert.Contains(t, html, "2/30")
	assert.Contains(t, html, "Mme Furaha, Principal")
	assert.NotContains(t, html, "Council decision")
	assert.Less(t, strings.Index(html, "Mathematics"), strings.Index(html, "Woodwork"))
}

func TestRender_AnnualInFrench(t *testing.T) {
	r, _ := newTestRenderer(t)
	b := sampleBulletin(grade.TermT3)
	b.Annual = &bulletin.AnnualDecision{
		TermAverages: map[grade.Term]decimal.Decimal{
			grade.TermT1: dec("12"), grade.TermT2: dec("14"), grade.TermT3: dec("16"),
		},
		AnnualAverage:       dec("14"),
		Decision:            grading.DecisionPromoted,
		CouncilObservations: "Très bon travail",
	}

	layout := bulletin.LayoutFor(b, "")
	assert.Equal(t, bulletin.TemplateAnnual, layout.Template)

	content, err := r.Execute(b, layout)
	require.NoError(t, err)
	html := string(content)
	assert.Contains(t, html, "Bulletin annuel")
	assert.Contains(t, html, "Moyenne annuelle")
	assert.Contains(t, html, "14.00/20")
	assert.Contains(t, html, "Admis en classe supérieure")
	assert.Contains(t, html, "Très bon travail")
	assert.Less(t, strings.Index(html, "Premier trimestre"), strings.Index(html, "Deuxième trimestre"))
}

func TestRender_Errors(t *testing.T) {
	r, _ := newTestRenderer(t)
	b := sampleBulletin(grade.TermT3)

	_, err := r.Execute(b, bulletin.Layout{Template: bulletin.TemplateAnnual})
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))

	_, err = r.Execute(b, bulletin.Layout{Template: "poster"})
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Render(ctx, b, bulletin.LayoutFor(b, "en"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewStore(t *testing.T) {
	_, err := NewStore(core.StorageConfig{Driver: "ftp"})
	assert.Error(t, err)

	_, err = NewStore(core.StorageConfig{Driver: "oss"})
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))

	s, err := NewStore(core.StorageConfig{Driver: "local", Dir: t.TempDir(), BaseURL: "file://"})
	require.NoError(t, err)
	url, err := s.Put(context.Background(), "a/b.html", strings.NewReader("x"), contentType)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))
	assert.True(t, strings.HasSuffix(url, "/a/b.html"))
}
