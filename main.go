package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"post-mirror/domain/repository"
	"post-mirror/infrastructure/cache"
	"post-mirror/infrastructure/clients/bluesky"
	"post-mirror/infrastructure/clients/mastodon"
	"post-mirror/infrastructure/clients/nanopub"
	"post-mirror/infrastructure/clients/orcid"
	"post-mirror/infrastructure/clients/parser"
	"post-mirror/infrastructure/clients/twitter"
	"post-mirror/infrastructure/configuration"
	"post-mirror/infrastructure/db"
	"post-mirror/infrastructure/logger"
	"post-mirror/infrastructure/persistence"
	"post-mirror/infrastructure/platforms"
	"post-mirror/infrastructure/pubsub"
	"post-mirror/infrastructure/realtime"
	"post-mirror/infrastructure/servicebus"
	"post-mirror/infrastructure/tasks"
	"post-mirror/infrastructure/utils"
	httpHandler "post-mirror/interfaces/http"
	"post-mirror/server"
	"post-mirror/usecase"

	"golang.org/x/sync/errgroup"
)

var httpServer *http.Server

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	// OS env keeps precedence over the files
	if err := configuration.LoadEnvFromFile("config.env", ".env"); err != nil {
		logger.GetLogger().WithField("error", err).Warn("Error while loading env files")
	}

	if len(os.Args) == 3 && os.Args[1] == "token" {
		issueToken(os.Args[2])
		return
	}

	defer recoverPanic()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)
	cfg := configuration.C
	httpClient := &http.Client{Timeout: 30 * time.Second}
	health := map[string]httpHandler.Pinger{}

	redisClient, err := cache.NewCache(ctx,
		fmt.Sprintf("%s:%s", cfg.RedisClient.Host, cfg.RedisClient.Port),
		cfg.RedisClient.Username,
		cfg.RedisClient.Password,
	)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Redis not available - continuing without task dedup and cross-instance signals")
		redisClient = nil
	} else {
		health["redis"] = func() error { return redisClient.Ping(context.Background()).Err() }
	}

	// Change signals: local SSE hub, cross-instance relay, notification topic and activity log.
	hub := realtime.NewSignalHub()
	signalers := realtime.Fanout{}
	if redisClient != nil {
		relay := cache.NewSignalPublisher(redisClient, cfg.RedisClient.SignalChannel)
		signalers = append(signalers, relay)
		g.Go(func() error {
			if err := relay.Subscribe(ctx, hub.Signal); err != nil && !errors.Is(err, context.Canceled) {
				logger.GetLogger().WithField("error", err).Error("Signal relay stopped")
			}
			return nil
		})
	} else {
		signalers = append(signalers, hub)
	}

	if pubSubClient, err := pubsub.NewPubSub(ctx, cfg.Pubsub.ProjectID, cfg.Pubsub.CredentialsFile); err != nil {
		logger.GetLogger().WithField("error", err).Warn("PubSub not available - change signals stay local")
	} else if publisher, err := pubsub.NewSignalPublisher(ctx, pubSubClient, cfg.Pubsub.SignalTopic); err != nil {
		logger.GetLogger().WithField("error", err).Warn("PubSub topic not available - change signals stay local")
	} else {
		defer publisher.Stop()
		signalers = append(signalers, publisher)
	}

	var activity usecase.IActivityUsecase
	if gormDb, err := persistence.NewGormDb(); err != nil {
		logger.GetLogger().WithField("error", err).Info("Activity log disabled")
	} else if err := persistence.EnsureActivitySchema(gormDb); err != nil {
		logger.GetLogger().WithField("error", err).Error("failed ensuring activity schema")
	} else {
		activity = usecase.NewActivityUsecase(persistence.NewActivityRepository(gormDb))
		signalers = append(signalers, activity)
	}

	store, err := initiateStore(ctx, cfg, signalers, health)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Document store initialization failed")
		os.Exit(1)
	}
	credentials := initiateCredentials(store, health)

	registry, err := platforms.NewRegistry(platforms.Adapters{
		Twitter: twitter.NewClient(twitter.Config{
			BaseURL:      cfg.Platforms.Twitter.BaseURL,
			ClientID:     cfg.Platforms.Twitter.ClientID,
			ClientSecret: cfg.Platforms.Twitter.ClientSecret,
			RedirectURI:  cfg.Platforms.Twitter.RedirectURI,
		}, httpClient),
		Mastodon: mastodon.NewClient(cfg.Platforms.Mastodon.BaseURL, httpClient),
		Bluesky:  bluesky.NewClient(cfg.Platforms.Bluesky.BaseURL, httpClient),
		Nanopub:  nanopub.NewClient(cfg.Platforms.Nanopub.BaseURL, httpClient),
		Orcid: orcid.NewClient(orcid.Config{
			BaseURL:      cfg.Platforms.Orcid.BaseURL,
			ClientID:     cfg.Platforms.Orcid.ClientID,
			ClientSecret: cfg.Platforms.Orcid.ClientSecret,
			RedirectURI:  cfg.Platforms.Orcid.RedirectURI,
		}, httpClient),
	})
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Platform registry initialization failed")
		os.Exit(1)
	}
	semanticParser := parser.NewClient(cfg.Parser.URL, time.Duration(cfg.Parser.TimeoutSeconds)*time.Second, httpClient)

	repos := usecase.Repositories{
		Posts:         persistence.NewPostsRepository(),
		PlatformPosts: persistence.NewPlatformPostsRepository(),
		Triples:       persistence.NewTriplesRepository(),
		Profiles:      persistence.NewProfilesRepository(),
		Users:         persistence.NewUsersRepository(),
		TaskMeta:      persistence.NewTaskMetaRepository(),
	}
	processing := usecase.NewPostsProcessing(repos, registry)
	manager := usecase.NewPostsManager(store, repos, processing, registry, credentials, semanticParser, cfg.Tasks.FetchExpectedAmount)
	users := usecase.NewUsersUsecase(store, repos, registry, credentials)

	dispatcher := tasks.NewDispatcher(tasks.OptionsFromConfig(cfg.Tasks))
	if redisClient != nil {
		window := time.Duration(cfg.Tasks.ScheduleMinutes) * time.Minute / 2
		dispatcher.UseClaimer(cache.NewDeduper(redisClient, "post-mirror:task:", window))
	}
	transport, err := initiateTransport(ctx, g, cfg, dispatcher)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Task transport initialization failed")
		os.Exit(1)
	}
	dispatcher.UseTransport(transport)

	taskUsecase := usecase.NewTaskUsecase(store, repos, manager, dispatcher, usecase.TaskSettings{
		BatchSize:   cfg.Tasks.BatchSize,
		MetricsBase: time.Duration(cfg.Tasks.MetricsBaseSeconds) * time.Second,
		MetricsMax:  time.Duration(cfg.Tasks.MetricsMaxSeconds) * time.Second,
	})
	taskUsecase.Register(dispatcher)
	manager.UseHooks(taskUsecase)
	logger.GetLogger().WithField("tasks", dispatcher.Names()).Info("Task handlers registered")

	// Scheduled triggers for the batch tasks.
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(cfg.Tasks.ScheduleMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			if err := taskUsecase.Schedule(ctx); err != nil {
				logger.GetLogger().WithField("error", err).Error("Error while scheduling batch tasks")
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	handlers := server.Handlers{
		Health:   httpHandler.NewHealthHandler(health),
		Posts:    httpHandler.NewPostHandler(manager),
		Accounts: httpHandler.NewAccountHandler(users),
		Stream:   hub.Serve,
	}
	if cfg.Tasks.PushSecret != "" {
		handlers.Tasks = httpHandler.NewTaskHandler(dispatcher, cfg.Tasks.PushSecret)
	}
	if activity != nil {
		handlers.Activity = httpHandler.NewActivityHandler(activity)
	}
	router := server.InitiateRouter(handlers, cfg.App.Origins, cfg.App.SecretKey)

	app := cfg.App
	logger.GetLogger().WithFields(map[string]interface{}{"port": app.Port, "tls": app.TLSEnabled, "store": app.Store}).Info("Starting application")
	g.Go(func() error {
		httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", app.Port),
			Handler: router,
		}
		if app.TLSEnabled && app.TLSCertFile != "" && app.TLSKeyFile != "" {
			logger.GetLogger().WithFields(map[string]interface{}{"cert": app.TLSCertFile, "key": app.TLSKeyFile}).Info("Serving HTTPS")
			if err := httpServer.ListenAndServeTLS(app.TLSCertFile, app.TLSKeyFile); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
		if app.TLSEnabled {
			logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
		}
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	select {
	case <-interrupt:
		logger.GetLogger().Info("Application shutdown requested")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if err := transport.Close(shutdownCtx); err != nil {
		logger.GetLogger().WithField("error", err).Warn("Task transport did not drain")
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.GetLogger().WithField("error", err).Warn("Document store close failed")
	}

	if err := g.Wait(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
}

type closableStore interface {
	repository.Store
	Close(ctx context.Context) error
}

// initiateStore selects MongoDB when configured, else the in-memory store.
func initiateStore(ctx context.Context, cfg configuration.Config, signaler repository.ISignaler, health map[string]httpHandler.Pinger) (closableStore, error) {
	if cfg.App.Store != "mongo" {
		logger.GetLogger().Warn("Using the in-memory document store; data is lost on restart")
		return db.NewMemoryStore().WithSignaler(signaler), nil
	}
	mongoCfg := cfg.Database.Mongo
	client, err := persistence.NewMongoDb(mongoCfg.Host, mongoCfg.Port, mongoCfg.User, mongoCfg.Password, mongoCfg.Name)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	store := db.NewMongoStore(client, mongoCfg.Name).WithSignaler(signaler)
	if err := store.EnsureIndexes(ctx); err != nil {
		logger.GetLogger().WithField("error", err).Error("failed ensuring mongo indexes")
	}
	health["mongo"] = func() error { return client.Ping(context.Background(), nil) }
	logger.GetLogger().Info("MongoDB connected successfully")
	return store, nil
}

// initiateCredentials keeps platform secrets in SQL when available:
// MSSQL in production, PostgreSQL otherwise, the document store as fallback.
func initiateCredentials(store repository.Store, health map[string]httpHandler.Pinger) repository.ICredentials {
	env := os.Getenv("ENV")
	if os.Getenv("DB_VENDOR") == "mssql" || env == "production" || env == "prod" {
		mssql, err := persistence.NewMSSQLDB()
		if err == nil {
			if err := persistence.EnsureCredentialsSchemaMSSQL(mssql); err != nil {
				logger.GetLogger().WithField("error", err).Error("failed ensuring credentials schema (mssql)")
			}
			health["mssql"] = mssql.Ping
			return persistence.NewCredentialsRepositoryMSSQL(mssql)
		}
		logger.GetLogger().WithField("error", err).Error("Cannot connect to MSSQL")
	}
	psql, err := persistence.NewPostgreSQLDB()
	if err == nil {
		if err := persistence.EnsureCredentialsSchema(psql); err != nil {
			logger.GetLogger().WithField("error", err).Error("failed ensuring credentials schema")
		}
		health["postgres"] = psql.Ping
		return persistence.NewCredentialsRepository(psql)
	}
	logger.GetLogger().WithField("error", err).Info("PostgreSQL not available; credentials kept in the document store")
	return persistence.NewCredentialsDocumentRepository(store)
}

// initiateTransport delivers tasks in process, or through Azure Service Bus
// with a worker consuming the queue.
func initiateTransport(ctx context.Context, g *errgroup.Group, cfg configuration.Config, dispatcher *tasks.Dispatcher) (tasks.Transport, error) {
	if cfg.Tasks.Transport != "servicebus" {
		return tasks.NewDirectTransport(dispatcher), nil
	}
	client, err := servicebus.NewServiceBus(ctx, cfg.ServiceBus.Namespace, cfg.ServiceBus.ConnectionString)
	if err != nil {
		return nil, err
	}
	transport, err := servicebus.NewTransport(client, cfg.ServiceBus.Queue)
	if err != nil {
		return nil, err
	}
	worker, err := servicebus.NewWorker(client, cfg.ServiceBus.Queue, transport, dispatcher)
	if err != nil {
		return nil, err
	}
	g.Go(func() error { return worker.Run(ctx) })
	logger.GetLogger().WithField("queue", cfg.ServiceBus.Queue).Info("Service Bus task worker started")
	return transport, nil
}

// issueToken prints a bearer token for an app user, for operators and local testing.
func issueToken(userID string) {
	token, err := utils.GenerateToken(userID, 24*time.Hour, configuration.C.App.SecretKey)
	if err != nil {
		os.Exit(1)
	}
	fmt.Println(token)
}
