package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/grade"
)

type gradeApi struct {
	svc        *grade.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerGradeAPI(g *echo.Group, opts *Options) {
	api := gradeApi{
		svc:        opts.Grades,
		validate:   opts.Validate,
		translator: opts.Translator,
	}

	gg := g.Group("/grades", staffMiddleware())
	gg.POST("", api.record)
	gg.GET("", api.snapshot)

	sg := g.Group("/subjects", staffMiddleware())
	sg.GET("", api.querySubjects)
	sg.POST("", api.createSubject, directorMiddleware())
	sg.PUT("/:id", api.updateSubject, directorMiddleware())
}

// validateStudentTerm checks a key read from the query string.
func validateStudentTerm(st grade.StudentTerm, validate *validator.Validate, translator ut.Translator) error {
	if err := validate.Struct(st); err != nil {
		return core.ValidationErrors(err, translator)
	}
	return nil
}

// Handlers

func (api *gradeApi) record(ctx echo.Context) error {
	var data grade.NewGrade
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGrade")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	comp, err := api.svc.Record(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "recording grade")
	}
	return ctx.JSON(http.StatusOK, comp)
}

func (api *gradeApi) snapshot(ctx echo.Context) error {
	st := bindStudentTerm(ctx)
	if err := validateStudentTerm(st, api.validate, api.translator); err != nil {
		return err
	}
	snap, err := api.svc.Snapshot(ctx.Request().Context(), st)
	if err != nil {
		return errors.Wrap(err, "reading ledger snapshot")
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *gradeApi) querySubjects(ctx echo.Context) error {
	classID := core.CleanString(ctx.QueryParam("class_id"))
	if classID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "this field is required"})
	}
	subjects, err := api.svc.ClassSubjects(ctx.Request().Context(), classID)
	if err != nil {
		return errors.Wrap(err, "querying subjects")
	}
	return ctx.JSON(http.StatusOK, subjects)
}

func (api *gradeApi) createSubject(ctx echo.Context) error {
	var data grade.NewSubject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubject")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sub, err := api.svc.CreateSubject(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating subject")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *gradeApi) updateSubject(ctx echo.Context) error {
	var data grade.UpdateSubject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSubject")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sub, err := api.svc.UpdateSubject(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating subject")
	}
	return ctx.JSON(http.StatusOK, sub)
}
