package main

import (
	"context"
	"log"
	"time"

	"github.com/haatos/runbatch/internal"
	"github.com/haatos/runbatch/internal/handler"
	"github.com/haatos/runbatch/internal/settings"
	"github.com/haatos/runbatch/internal/simulator"
	"github.com/haatos/runbatch/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "modernc.org/sqlite"
)

func main() {
	settings.ReadDotenv(internal.DotEnvPath)
	settings.Settings = settings.NewSettings()
	internal.InitializeConfiguration(internal.ConfigPath)
	rdb := store.InitDatabase(true)
	defer rdb.Close()
	rwdb := store.InitDatabase(false)
	defer rwdb.Close()
	store.RunMigrations(rwdb)

	suite, err := simulator.LoadSuite(settings.Settings.TargetsPath)
	if err != nil {
		log.Fatal(err)
	}

	batchStore := store.NewBatchSQLiteStore(rdb, rwdb)
	apiKeyStore := store.NewAPIKeySQLiteStore(rdb, rwdb)

	sim := simulator.NewSimulator(
		batchStore,
		store.NewRunSQLiteStore(rdb, rwdb),
		store.NewRunEventSQLiteStore(rdb, rwdb),
		store.NewRunTestSQLiteStore(rdb, rwdb),
		suite,
		simulator.Options{
			QueueSize: internal.Config.QueueSize,
			TimeScale: internal.Config.TimeScale,
		},
	)
	defer sim.Shutdown()
	if err := sim.RecoverUnfinishedRuns(context.Background()); err != nil {
		log.Fatal(err)
	}

	apiKeySvc := simulator.NewAPIKeyService(apiKeyStore, simulator.NewUUIDGen())
	key, err := apiKeySvc.InitializeAPIKey(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	if key != nil {
		log.Println("created initial api key:", key.Value)
	}

	scheduler := simulator.NewScheduler()
	defer scheduler.Shutdown()
	if _, err := simulator.ScheduleRetention(
		scheduler,
		batchStore,
		time.Duration(internal.Config.RetentionHours),
	); err != nil {
		log.Fatal(err)
	}
	scheduler.Start()

	e := setupEcho()
	g := e.Group("/api", handler.APIKeyMiddleware(apiKeySvc))
	handler.SetupBatchRoutes(g, sim)
	handler.SetupRunRoutes(g, sim)
	handler.SetupAPIKeyRoutes(g, apiKeySvc)
	handler.SetupConfigRoutes(g, internal.ConfigPath)

	internal.GracefulShutdown(e, settings.Settings.Port)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Use(
		middleware.Recover(),
		middleware.Logger(),
		middleware.CORSWithConfig(internal.GetCORSConfig()),
		middleware.RateLimiterWithConfig(internal.GetRateLimiterConfig()),
	)
	return e
}
