package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
)

type (
	bulletinApi struct {
		svc         *bulletin.Service
		coordinator *bulletin.Coordinator
		validate    *validator.Validate
		translator  ut.Translator
	}

	createdResponse struct {
		ID       string                `json:"id"`
		Status   bulletin.Status       `json:"status"`
		Document *bulletin.DocumentRef `json:"document"`
	}

	bulkResponse struct {
		bulletin.BulkResult
		Code string `json:"code,omitempty"`
	}
)

func registerBulletinAPI(g *echo.Group, opts *Options) {
	api := bulletinApi{
		svc:         opts.Bulletins,
		coordinator: opts.Coordinator,
		validate:    opts.Validate,
		translator:  opts.Translator,
	}

	bg := g.Group("/bulletins", staffMiddleware())
	bg.POST("", api.create, directorMiddleware())
	bg.POST("/draft", api.draft)
	bg.POST("/bulk", api.bulk, directorMiddleware())
	bg.GET("", api.query)
	bg.GET("/lookup", api.lookup)

	// detail endpoints
	dg := bg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.POST("/submit", api.submit)
	dg.POST("/approve", api.approve, directorMiddleware())
	dg.POST("/decision", api.decide, directorMiddleware())
}

// Handlers

func (api *bulletinApi) create(ctx echo.Context) error {
	var data bulletin.NewBulletin
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBulletin")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	b, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating bulletin")
	}
	return ctx.JSON(http.StatusCreated, createdResponse{ID: b.ID, Status: b.Status, Document: b.Document})
}

func (api *bulletinApi) draft(ctx echo.Context) error {
	var data grade.StudentTerm
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentTerm")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	b, err := api.svc.Draft(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "drafting bulletin")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bulletinApi) query(ctx echo.Context) error {
	filter, err := bindQueryFilter(ctx)
	if err != nil {
		return err
	}
	var ord Ordering
	ord.Bind(ctx)

	bulletins, err := api.svc.Query(ctx.Request().Context(), filter, ord.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying bulletins")
	}
	return ctx.JSON(http.StatusOK, bulletins)
}

func (api *bulletinApi) lookup(ctx echo.Context) error {
	b, err := api.svc.Lookup(ctx.Request().Context(), bindStudentTerm(ctx))
	if err != nil {
		return errors.Wrap(err, "looking up bulletin")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bulletinApi) retrieve(ctx echo.Context) error {
	b, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting bulletin")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bulletinApi) submit(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	b, err := api.svc.Submit(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "submitting bulletin")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bulletinApi) approve(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	b, err := api.svc.Approve(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "approving bulletin")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bulletinApi) decide(ctx echo.Context) error {
	var data bulletin.Council
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Council")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	b, err := api.svc.Decide(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "recording council decision")
	}
	return ctx.JSON(http.StatusOK, b)
}

// bulk answers 207 Multi-Status when some items failed; the batch itself never fails on item errors.
func (api *bulletinApi) bulk(ctx echo.Context) error {
	var data bulletin.BulkRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BulkRequest")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	res, err := api.coordinator.Run(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "running bulk action")
	}
	code := http.StatusOK
	if res.HasFailures() {
		code = http.StatusMultiStatus
	}
	return ctx.JSON(code, bulkResponse{BulkResult: res, Code: res.Code()})
}
