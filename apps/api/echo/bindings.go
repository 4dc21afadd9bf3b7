package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindStudentTerm reads the student term key from the query string.
func bindStudentTerm(ctx echo.Context) grade.StudentTerm {
	return grade.StudentTerm{
		StudentID:    core.CleanString(ctx.QueryParam("student_id")),
		ClassID:      core.CleanString(ctx.QueryParam("class_id")),
		AcademicYear: core.CleanString(ctx.QueryParam("academic_year")),
		Term:         grade.Term(strings.ToUpper(core.CleanString(ctx.QueryParam("term")))),
	}
}

func bindQueryFilter(ctx echo.Context) (*bulletin.QueryFilter, error) {
	filter := &bulletin.QueryFilter{
		StudentID:    ctx.QueryParam("student_id"),
		ClassID:      ctx.QueryParam("class_id"),
		AcademicYear: ctx.QueryParam("academic_year"),
		Term:         ctx.QueryParam("term"),
		Statuses:     ctx.QueryParams()["status"],
	}
	var err error
	if filter.Signed, err = boolParam(ctx, "signed"); err != nil {
		return nil, err
	}
	if filter.SendFailed, err = boolParam(ctx, "send_failed"); err != nil {
		return nil, err
	}
	return filter, nil
}

// boolParam reads an optional boolean query param; nil when absent.
func boolParam(ctx echo.Context, name string) (*bool, error) {
	s := ctx.QueryParam(name)
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, core.NewValidationError(nil, core.FieldError{Field: name, Error: "must be a boolean"})
	}
	return &b, nil
}
