package main

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/learnplus/learnplus/apps/api/echo"
	"github.com/learnplus/learnplus/core"
	"github.com/learnplus/learnplus/core/course"
	"github.com/learnplus/learnplus/core/enrollment"
	"github.com/learnplus/learnplus/core/user"
	appfs "github.com/learnplus/learnplus/fs"
	emailsvc "github.com/learnplus/learnplus/services/email"
	logsvc "github.com/learnplus/learnplus/services/logger"
	mediasvc "github.com/learnplus/learnplus/services/media"
	"github.com/learnplus/learnplus/storage/database"
	inmemdb "github.com/learnplus/learnplus/storage/database/inmem"
	sqlxrepos "github.com/learnplus/learnplus/storage/database/sqlx"
)

const localMediaRoot = "media"

type repositories struct {
	users       user.Repository
	courses     course.Repository
	enrollments enrollment.Repository
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	repos, closeDB, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = closeDB.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	media, closeMedia, err := setUpMedia(conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up media services: %v", err), err)
	}
	defer func() { _ = closeMedia.Close() }()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.RegisterValidators(validate, translator)

	if err = core.ParseEmailTemplates(appfs.FS, true, logger); err != nil {
		logger.Fatal(fmt.Sprintf("parsing email templates: %v", err), err)
	}

	if err = user.LoadCommonPasswords(appfs.FS); err != nil {
		logger.Fatal(fmt.Sprintf("loading common passwords: %v", err), err)
	}

	usrSvc := user.NewService(repos.users, mailSvc, conf)
	courseSvc := course.NewService(repos.courses, media, validate, logger)
	enrollmentSvc := enrollment.NewService(repos.enrollments, repos.courses, repos.users, mailSvc, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("db_engine").Set(conf.Database.Engine)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	deps := echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		UserSvc:       usrSvc,
		CourseSvc:     courseSvc,
		EnrollmentSvc: enrollmentSvc,
		Validate:      validate,
		Translator:    translator,
	}
	if conf.Media.GCSBucket == "" {
		deps.MediaRoot = localMediaRoot
	}
	server := echoapi.NewServer(deps)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }

var noopCloser = closerFunc(func() error { return nil })

// setUpDB builds the repositories of the configured engine.
// The "memory" engine keeps everything in process & is lost on exit.
func setUpDB(conf *core.Config) (repositories, io.Closer, error) {
	if conf.Database.Engine == "memory" {
		db := inmemdb.Open()
		return repositories{
			users:       inmemdb.NewUserRepository(db),
			courses:     inmemdb.NewCourseRepository(db),
			enrollments: inmemdb.NewEnrollmentRepository(db),
		}, noopCloser, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return repositories{}, nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return repositories{}, nil, err
	}

	if err = database.Migrate(db); err != nil {
		_ = db.Close()
		return repositories{}, nil, err
	}
	return repositories{
		users:       sqlxrepos.NewUserRepository(db),
		courses:     sqlxrepos.NewCourseRepository(db),
		enrollments: sqlxrepos.NewEnrollmentRepository(db),
	}, db, nil
}

// setUpMedia uses GCS & Mux when configured, the local disk & a logging streaming service otherwise.
func setUpMedia(conf *core.Config, logger core.Logger) (core.MediaServices, io.Closer, error) {
	media := core.MediaServices{Images: mediasvc.NewThumbnailer(conf)}

	if conf.Media.GCSBucket != "" {
		gcs, err := mediasvc.NewGCSStorage(context.Background(), conf)
		if err != nil {
			return core.MediaServices{}, nil, err
		}
		media.Storage = gcs
		if conf.Media.MuxTokenID != "" {
			media.Streaming = mediasvc.NewMuxService(conf, logger)
		} else {
			media.Streaming = mediasvc.NewConsoleStreaming(logger)
		}
		return media, gcs, nil
	}

	if conf.Media.MuxTokenID != "" {
		logger.Warn("media.mux_token_id is ignored: the streaming provider cannot fetch local media")
	}
	media.Storage = mediasvc.NewLocalStorage(localMediaRoot, "http://"+conf.Server.Address()+"/media")
	media.Streaming = mediasvc.NewConsoleStreaming(logger)
	return media, noopCloser, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
