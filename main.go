package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"depsync/internal"
	"depsync/pkg/api"
	"depsync/pkg/jobs"
	"depsync/pkg/provider"
	"depsync/pkg/provider/factory"
	"depsync/pkg/storage"
	"depsync/pkg/storage/gormdb"
	"depsync/pkg/syncer"
	"depsync/webhook"

	_ "github.com/lib/pq"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	store, err := gormdb.Open(gormdb.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		Dialect:     config.Storage.Dialect,
		AutoMigrate: config.Storage.AutoMigrate,
	})
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer store.Close()

	ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules:  config.Rules,
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	publisher, err := internal.NewPublisher(config.Watermill)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

	subscriber, err := internal.BuildSubscriber(config.Watermill)
	if err != nil {
		logger.Fatalf("subscriber: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secrets := internal.EnvSecretResolver("")

	var enqueuer jobs.Enqueuer
	if config.River.DSN != "" {
		scheduler, err := jobs.NewScheduler(ctx, config.River)
		if err != nil {
			logger.Fatalf("river: %v", err)
		}
		defer scheduler.Close()
		enqueuer = scheduler
		logger.Printf("update jobs enqueue on river queue %s", config.River.Queue)
	} else {
		logger.Printf("river dsn not configured, update jobs are persisted but not enqueued")
	}

	providerFor := func(ctx context.Context, org storage.OrganizationRecord) (provider.SyncProvider, error) {
		creds := provider.Credentials{}
		if org.CredentialKey != "" {
			secret, err := secrets(ctx, org.CredentialKey)
			if err != nil {
				return nil, err
			}
			creds.Token = secret
		}
		return factory.ForOrganization(org, creds)
	}

	orchestrator := &jobs.Orchestrator{
		Store:    store,
		Secrets:  secrets,
		Enqueuer: enqueuer,
		Logger:   internal.NewLogger("jobs"),
	}

	synchronizer := &syncer.Synchronizer{
		Store:         store,
		Secrets:       secrets,
		Trigger:       orchestrator,
		Logger:        internal.NewLogger("sync"),
		ProviderFor:   providerFor,
		ThrottleEvery: config.Sync.ThrottleEvery,
		ThrottlePause: time.Duration(config.Sync.ThrottlePauseMS) * time.Millisecond,
		TriggerJobs:   config.Sync.TriggerJobs,
	}
	dispatcher := &syncer.Dispatcher{
		Store:  store,
		Sync:   synchronizer,
		Logger: internal.NewLogger("sync"),
	}

	consumer := &internal.Consumer{
		Subscriber: subscriber,
		Dispatcher: dispatcher,
		Logger:     internal.NewLogger("consumer"),
	}
	go func() {
		if err := consumer.Run(ctx); err != nil {
			logger.Printf("consumer stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()

	if config.Webhooks.AzureDevOps.Enabled {
		handler := webhook.NewAzureDevOpsHandler(store, ruleEngine, publisher, internal.NewLogger("webhook"), config.Server.MaxBodyBytes)
		mux.Handle(config.Webhooks.AzureDevOps.Path, handler)
		logger.Printf("azuredevops webhook enabled on %s", config.Webhooks.AzureDevOps.Path)
	}
	if config.Webhooks.GitLab.Enabled {
		handler := webhook.NewGitLabHandler(store, ruleEngine, publisher, internal.NewLogger("webhook"), config.Server.MaxBodyBytes)
		mux.Handle(config.Webhooks.GitLab.Path, handler)
		logger.Printf("gitlab webhook enabled on %s", config.Webhooks.GitLab.Path)
	}
	if config.Webhooks.Bitbucket.Enabled {
		handler := webhook.NewBitbucketHandler(store, ruleEngine, publisher, internal.NewLogger("webhook"), config.Server.MaxBodyBytes)
		mux.Handle(config.Webhooks.Bitbucket.Path, handler)
		logger.Printf("bitbucket webhook enabled on %s", config.Webhooks.Bitbucket.Path)
	}

	callback := &api.CallbackHandler{
		Store:                store,
		ProviderFor:          providerFor,
		Resume:               jobs.NewResumeRegistry(),
		Affected:             jobs.NewAffectedTracker(),
		Logger:               internal.NewLogger("callback"),
		PathPrefix:           config.Callback.PathPrefix,
		DescriptionMaxLength: config.Callback.DescriptionMaxLength,
		MaxBodyBytes:         config.Server.MaxBodyBytes,
	}
	mux.Handle(config.Callback.PathPrefix, callback)
	logger.Printf("job callbacks enabled on %s", config.Callback.PathPrefix)

	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
		logger.Printf("metrics enabled on %s", config.Server.MetricsPath)
	}

	handler := internal.NewRateLimitHandler(mux, config.Server.RateLimitRPS, config.Server.RateLimitBurst)

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
