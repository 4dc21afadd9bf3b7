package grading

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Category string

const (
	CategoryGeneral      Category = "general"
	CategoryScientific   Category = "scientific"
	CategoryLiterary     Category = "literary"
	CategoryProfessional Category = "professional"
	CategoryOther        Category = "other"
)

// Bulletin sections the categories are printed under.
const (
	SectionGeneral      = "general"
	SectionProfessional = "professional"
	SectionOther        = "other"
)

var Categories = []Category{CategoryGeneral, CategoryScientific, CategoryLiterary, CategoryProfessional, CategoryOther}

func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Section returns the bulletin section a category is printed under.
func (c Category) Section() string {
	switch c {
	case CategoryGeneral, CategoryScientific, CategoryLiterary:
		return SectionGeneral
	case CategoryProfessional:
		return SectionProfessional
	}
	return SectionOther
}

type (
	CategoryEntry struct {
		Category Category `yaml:"category"`
		Section  string   `yaml:"section,omitempty"`
	}

	// CategoryTable maps subject codes to their category, per institution.
	//
	//	subjects:
	//	  MATH: {category: scientific}
	//	  ELEC: {category: professional, section: workshop}
	CategoryTable struct {
		mu      sync.RWMutex
		entries map[string]CategoryEntry
	}

	categoryFile struct {
		Subjects map[string]CategoryEntry `yaml:"subjects"`
	}
)

func NewCategoryTable() *CategoryTable {
	return &CategoryTable{entries: make(map[string]CategoryEntry)}
}

// LoadCategoryTable decodes a YAML category table.
func LoadCategoryTable(r io.Reader) (*CategoryTable, error) {
	var f categoryFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decoding category table")
	}
	tbl := NewCategoryTable()
	for code, entry := range f.Subjects {
		if err := tbl.Set(code, entry); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// LoadCategoryFile loads a YAML category table from disk. An empty path yields an empty table.
func LoadCategoryFile(path string) (*CategoryTable, error) {
	if path == "" {
		return NewCategoryTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening category table")
	}
	defer f.Close()
	return LoadCategoryTable(f)
}

func (t *CategoryTable) Set(code string, entry CategoryEntry) error {
	cat, ok := ParseCategory(string(entry.Category))
	if !ok {
		return errors.Errorf("subject %q: unknown category %q", code, entry.Category)
	}
	entry.Category = cat
	if entry.Section == "" {
		entry.Section = cat.Section()
	}
	t.mu.Lock()
	t.entries[normalizeCode(code)] = entry
	t.mu.Unlock()
	return nil
}

// Lookup returns the entry of a subject code; unknown codes fall under "other".
func (t *CategoryTable) Lookup(code string) CategoryEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[normalizeCode(code)]; ok {
		return e
	}
	return CategoryEntry{Category: CategoryOther, Section: SectionOther}
}

func (t *CategoryTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GroupBySection splits bulletin lines into their printed sections, keeping line order.
func GroupBySection(lines []SubjectLine) map[string][]SubjectLine {
	groups := make(map[string][]SubjectLine)
	for _, l := range lines {
		section := l.Section
		if section == "" {
			section = l.Category.Section()
		}
		groups[section] = append(groups[section], l)
	}
	return groups
}
