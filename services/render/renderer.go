package rendersvc

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grading"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

const contentType = "text/html; charset=utf-8"

type (
	Renderer struct {
		store     Store
		language  string
		templates map[string]*template.Template // {layout template: parsed set}
		logger    core.Logger
	}

	section struct {
		Name  string
		Lines []grading.SubjectLine
	}

	termAverage struct {
		Term    string
		Average decimal.Decimal
	}

	view struct {
		Lang     string
		B        bulletin.Bulletin
		Sections []section
		Terms    []termAverage
	}
)

var _ bulletin.Renderer = (*Renderer)(nil)

var sectionOrder = []string{grading.SectionGeneral, grading.SectionProfessional, grading.SectionOther}

// NewRenderer renders bulletins to HTML documents kept in store.
func NewRenderer(store Store, conf core.BulletinConfig, logger core.Logger) (*Renderer, error) {
	r := &Renderer{
		store:     store,
		language:  normalizeLanguage(conf.Language),
		templates: make(map[string]*template.Template),
		logger:    logger,
	}
	if r.language == "" {
		r.language = "fr"
	}
	for _, name := range []string{bulletin.TemplateTerm, bulletin.TemplateAnnual} {
		tmpl, err := template.New(name).Funcs(funcs(r.language)).ParseFS(templateFS, "templates/_layout.gohtml", "templates/"+name+".gohtml")
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s template", name)
		}
		r.templates[name] = tmpl.Option("missingkey=error")
	}
	return r, nil
}

func funcs(lang string) template.FuncMap {
	return template.FuncMap{
		"t":     func(key string) string { return label(lang, key) },
		"fixed": func(d decimal.Decimal) string { return d.StringFixed(2) },
		"score": func(d *decimal.Decimal) string {
			if d == nil {
				return "-"
			}
			return d.StringFixed(2)
		},
		"join": strings.Join,
	}
}

// Render writes the document of b and returns where it is stored. The bulletin is not modified.
func (r *Renderer) Render(ctx context.Context, b bulletin.Bulletin, layout bulletin.Layout) (bulletin.DocumentRef, error) {
	content, err := r.Execute(b, layout)
	if err != nil {
		return bulletin.DocumentRef{}, err
	}
	if layout.Language = normalizeLanguage(layout.Language); layout.Language == "" {
		layout.Language = r.language
	}

	key := DocumentKey(b, layout)
	url, err := r.store.Put(ctx, key, bytes.NewReader(content), contentType)
	if err != nil {
		return bulletin.DocumentRef{}, errors.Wrap(err, "storing document")
	}
	r.logger.Debug("render: document stored", map[string]interface{}{"bulletin_id": b.ID, "key": key})
	return bulletin.DocumentRef{
		URL:         url,
		Key:         key,
		ContentType: contentType,
		Layout:      layout,
		RenderedAt:  time.Now().UTC(),
	}, nil
}

// Execute renders the document body of b.
func (r *Renderer) Execute(b bulletin.Bulletin, layout bulletin.Layout) ([]byte, error) {
	lang := normalizeLanguage(layout.Language)
	if lang == "" {
		lang = r.language
	}
	base, ok := r.templates[layout.Template]
	if !ok {
		return nil, core.NewValidationError(errors.Errorf("unknown document template %q", layout.Template))
	}
	if layout.Template == bulletin.TemplateAnnual && b.Annual == nil {
		return nil, core.NewValidationError(errors.New("annual document without annual decision"))
	}

	tmpl, err := base.Clone()
	if err != nil {
		return nil, errors.Wrap(err, "cloning template")
	}
	tmpl.Funcs(funcs(lang))

	buf := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(buf, layout.Template+".gohtml", newView(lang, b)); err != nil {
		return nil, errors.Wrap(err, "executing template")
	}
	return buf.Bytes(), nil
}

func newView(lang string, b bulletin.Bulletin) view {
	v := view{Lang: lang, B: b}
	groups := b.Lines()
	for _, name := range sectionOrder {
		if lines := groups[name]; len(lines) > 0 {
			v.Sections = append(v.Sections, section{Name: name, Lines: lines})
		}
	}
	if b.Annual != nil {
		for t, avg := range b.Annual.TermAverages {
			v.Terms = append(v.Terms, termAverage{Term: string(t), Average: avg})
		}
		sort.Slice(v.Terms, func(i, j int) bool { return v.Terms[i].Term < v.Terms[j].Term })
	}
	return v
}

// DocumentKey is the storage key of a bulletin document, eg. 2024-2025/c1/T1/<id>.fr.html
func DocumentKey(b bulletin.Bulletin, layout bulletin.Layout) string {
	term := b.Term
	if term == "" {
		term = layout.Term
	}
	return fmt.Sprintf("%s/%s/%s/%s.%s.html", b.AcademicYear, b.ClassID, term, b.ID, layout.Language)
}
