package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/trezcool/masomo-bulletins/apps/api/echo"
	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/bulletin"
	"github.com/trezcool/masomo-bulletins/core/grade"
	"github.com/trezcool/masomo-bulletins/core/grading"
	"github.com/trezcool/masomo-bulletins/core/results"
	emailsvc "github.com/trezcool/masomo-bulletins/services/email"
	logsvc "github.com/trezcool/masomo-bulletins/services/logger"
	notifysvc "github.com/trezcool/masomo-bulletins/services/notify"
	rendersvc "github.com/trezcool/masomo-bulletins/services/render"
	schedulersvc "github.com/trezcool/masomo-bulletins/services/scheduler"
	"github.com/trezcool/masomo-bulletins/storage/database"
	inmemdb "github.com/trezcool/masomo-bulletins/storage/database/inmem"
	sqlxrepos "github.com/trezcool/masomo-bulletins/storage/database/sqlx"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// Stores are the repositories of the configured storage engine.
	Stores struct {
		dig.Out
		Grades    grade.Repository
		Subjects  grade.SubjectRepository
		Roster    grade.Roster
		Bulletins bulletin.Repository
		Closer    func() error
	}

	// StoresParam gives the composition root a way to close the storage engine.
	StoresParam struct {
		dig.In
		Closer func() error
	}

	ServerParams struct {
		dig.In
		Conf        *core.Config
		Logger      core.Logger
		Validate    *validator.Validate
		Translator  ut.Translator
		Grades      *grade.Service
		Results     *results.Service
		Bulletins   *bulletin.Service
		Coordinator *bulletin.Coordinator
	}
)

func newZap(conf *core.Config, name string) *zap.Logger {
	z, err := logsvc.NewDevelopment(conf)
	if err != nil {
		log.Fatalf("setting up zap: %v", err)
	}
	return z.Named(name)
}

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(newZap(conf, "api"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(newZap(conf, "db"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStores(conf *core.Config, loggerParam DBLoggerParam) Stores {
	if conf.Database.InMemory {
		db := inmemdb.Open()
		return Stores{
			Grades:    inmemdb.NewGradeRepository(db),
			Subjects:  inmemdb.NewSubjectRepository(db),
			Roster:    inmemdb.NewRoster(db),
			Bulletins: inmemdb.NewBulletinRepository(db),
			Closer:    func() error { return nil },
		}
	}

	setUp := func() (*sqlx.DB, error) {
		ctx := context.Background()
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if err = database.Migrate(db.DB); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return Stores{
		Grades:    sqlxrepos.NewGradeRepository(db),
		Subjects:  sqlxrepos.NewSubjectRepository(db),
		Roster:    sqlxrepos.NewRoster(db),
		Bulletins: sqlxrepos.NewBulletinRepository(db),
		Closer:    db.Close,
	}
}

func newCategoryTable(conf *core.Config) (*grading.CategoryTable, error) {
	if conf.Grading.CategoriesFile == "" {
		return grading.NewCategoryTable(), nil
	}
	return grading.LoadCategoryFile(conf.Grading.CategoriesFile)
}

func newPolicy(conf *core.Config) (grading.Policy, error) {
	return grading.NewPolicy(conf.Grading)
}

func newResultService(grades *grade.Service, policy grading.Policy, logger core.Logger) *results.Service {
	return results.NewService(grades, policy, logger)
}

func newRenderer(conf *core.Config, logger core.Logger) (bulletin.Renderer, error) {
	store, err := rendersvc.NewStore(conf.Storage)
	if err != nil {
		return nil, errors.Wrap(err, "setting up document store")
	}
	return rendersvc.NewRenderer(store, conf.Bulletin, logger)
}

func newBulletinService(
	repo bulletin.Repository,
	grades *grade.Service,
	res *results.Service,
	renderer bulletin.Renderer,
	conf *core.Config,
	validate *validator.Validate,
	translator ut.Translator,
	logger core.Logger,
) *bulletin.Service {
	return bulletin.NewService(repo, grades, res, renderer, conf.Bulletin, validate, translator, logger)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.Notify.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newDispatcher(conf *core.Config, email core.EmailService, logger core.Logger) bulletin.Dispatcher {
	return notifysvc.NewDispatcher(conf.Notify, notifysvc.NewSenders(conf, email, logger), logger)
}

func newCoordinator(
	svc *bulletin.Service,
	dispatcher bulletin.Dispatcher,
	grades *grade.Service,
	conf *core.Config,
	validate *validator.Validate,
	translator ut.Translator,
	logger core.Logger,
) *bulletin.Coordinator {
	return bulletin.NewCoordinator(svc, dispatcher, grades, conf.Bulk, conf.Notify, validate, translator, logger)
}

// newScheduler returns nil when retries are disabled.
func newScheduler(conf *core.Config, svc *bulletin.Service, coordinator *bulletin.Coordinator, logger core.Logger) (*schedulersvc.Scheduler, error) {
	if conf.Scheduler.RetrySpec == "" {
		return nil, nil
	}
	job := schedulersvc.NewRetryJob(svc, coordinator, 0, logger)
	return schedulersvc.New(conf.Scheduler.RetrySpec, job, logger)
}

func newServer(p ServerParams) *echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Conf:        p.Conf,
		Logger:      p.Logger,
		Validate:    p.Validate,
		Translator:  p.Translator,
		Grades:      p.Grades,
		Results:     p.Results,
		Bulletins:   p.Bulletins,
		Coordinator: p.Coordinator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStores))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(core.NewValidator))
	must(c.Provide(newCategoryTable))
	must(c.Provide(newPolicy))
	must(c.Provide(grade.NewService))
	must(c.Provide(newResultService))
	must(c.Provide(newRenderer))
	must(c.Provide(newBulletinService))
	must(c.Provide(newEmailService))
	must(c.Provide(newDispatcher))
	must(c.Provide(newCoordinator))
	must(c.Provide(newScheduler))
	must(c.Provide(newServer))

	if os.Getenv("DIG_VISUALIZE") != "" {
		_ = dig.Visualize(c, os.Stdout)
	}

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
