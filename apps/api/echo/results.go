package echoapi

import (
	"net/http"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
	"github.com/trezcool/masomo-bulletins/core/results"
)

const annualTerm = "annual"

type resultApi struct {
	svc        *results.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerResultAPI(g *echo.Group, opts *Options) {
	api := resultApi{
		svc:        opts.Results,
		validate:   opts.Validate,
		translator: opts.Translator,
	}

	rg := g.Group("/results", staffMiddleware())
	rg.GET("/term", api.term)
	rg.GET("/trend", api.trend)
	rg.GET("/annual", api.annual)
	rg.GET("/ranking", api.ranking)
}

// Handlers

func (api *resultApi) term(ctx echo.Context) error {
	st := bindStudentTerm(ctx)
	if err := validateStudentTerm(st, api.validate, api.translator); err != nil {
		return err
	}
	report, err := api.svc.TermReport(ctx.Request().Context(), st)
	if err != nil {
		return errors.Wrap(err, "computing term report")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *resultApi) trend(ctx echo.Context) error {
	st := bindStudentTerm(ctx)
	if err := validateStudentTerm(st, api.validate, api.translator); err != nil {
		return err
	}
	trend, err := api.svc.Trend(ctx.Request().Context(), st)
	if err != nil {
		if errors.Is(err, grading.ErrInsufficientHistory) {
			return errors.Wrap(core.ErrNoData, err.Error())
		}
		return errors.Wrap(err, "comparing terms")
	}
	return ctx.JSON(http.StatusOK, trend)
}

func (api *resultApi) annual(ctx echo.Context) error {
	st := bindStudentTerm(ctx)
	st.Term = grade.TermT3
	if err := validateStudentTerm(st, api.validate, api.translator); err != nil {
		return err
	}
	report, err := api.svc.Annual(ctx.Request().Context(), st.StudentID, st.ClassID, st.AcademicYear)
	if err != nil {
		return errors.Wrap(err, "computing annual report")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *resultApi) ranking(ctx echo.Context) error {
	st := bindStudentTerm(ctx)
	annual := strings.EqualFold(ctx.QueryParam("term"), annualTerm)
	st.StudentID = "-" // the ranking covers the whole class
	if annual {
		st.Term = grade.TermT3
	}
	if err := validateStudentTerm(st, api.validate, api.translator); err != nil {
		return err
	}

	var ranking grading.Ranking
	var err error
	if annual {
		ranking, err = api.svc.AnnualRanking(ctx.Request().Context(), st.ClassID, st.AcademicYear)
	} else {
		ranking, err = api.svc.ClassRanking(ctx.Request().Context(), st.ClassTerm())
	}
	if err != nil {
		return errors.Wrap(err, "ranking class")
	}
	return ctx.JSON(http.StatusOK, ranking)
}
