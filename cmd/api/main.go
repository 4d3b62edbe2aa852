package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"docpipe/internal/config"
	"docpipe/internal/correction"
	"docpipe/internal/data/store"
	"docpipe/internal/domain/jobModel"
	"docpipe/internal/gateway"
	"docpipe/internal/gateway/gemini"
	"docpipe/internal/gateway/openaiwire"
	"docpipe/internal/handlers"
	"docpipe/internal/job"
	"docpipe/internal/orchestrate"
	"docpipe/internal/pipeline"
	"docpipe/internal/schema"
	"docpipe/internal/server"
	"docpipe/internal/worker"
	"docpipe/pkg/logger_i"
)

var (
	listenAddr        string
	registryPath      string
	resultsDir        string
	requestCount      int64
	stopWorkerChannel chan bool
	workerWaitGroup   sync.WaitGroup
)

func main() {

	logger_i.Init()
	var logger = logger_i.NewLogger("main")

	//config
	flag.StringVar(&listenAddr, "listen-addr", config.ServerListenAddr, "server listen address")
	flag.StringVar(&registryPath, "registry", "", "path to a document type registry overriding the embedded one")
	flag.StringVar(&resultsDir, "results-dir", "results", "directory holding finished result files")
	flag.Parse()

	registry, err := loadRegistry()
	if err != nil {
		logger.Error("Registry failed to load. Shutting down.", "error", err)
		return
	}
	logger.Info("Document registry loaded", "types", registry.Types())

	//init buffered job channel
	jobChannel := make(chan jobModel.Job, config.BufferLimit)
	dispatcherChannel := make(chan bool, 1)
	stopWorkerChannel = make(chan bool, 1)

	serviceContext, closeExternalServices := context.WithCancel(context.Background())
	defer closeExternalServices()

	//init job service and job store
	serviceConfig := job.ServiceConfig{
		JobChannel:        jobChannel,
		RequestCount:      requestCount,
		DispatcherChannel: dispatcherChannel,
		JobStore:          store.GetRedisJobStore(serviceContext),
	}
	logger.Info("Starting job service")

	if serviceConfig.JobStore == nil || isNilStore(serviceConfig.JobStore) {
		logger.Error("Redis job store is offline, falling back to in-memory store")
		serviceConfig.JobStore = store.InitInMemoryJobStore()
	}
	service := job.InitJobService(serviceConfig)

	provider, err := buildProvider(serviceContext)
	if err != nil {
		logger.Error("Model provider failed to initialize. Shutting down.", "provider", config.APIProvider, "error", err)
		return
	}
	logger.Info("Model provider ready", "provider", provider.Name(), "model", config.APIModel)

	policy := gateway.DefaultRetryPolicy(
		config.APIMaxRetries,
		config.ExponentialBackoffFactor,
		config.BackoffBaseDelay,
		config.BackoffMaxDelay,
	)
	modelGateway := gateway.New(provider, policy, config.APIConcurrency, config.APITimeout)

	correctionLoop := correction.NewLoop(modelGateway, config.JSONCorrectionAttempts)
	mergePolicy := correction.ParsePolicy(config.MergePolicyName)
	orchestrator := orchestrate.New(registry, modelGateway, correctionLoop, mergePolicy)
	jobPipeline := pipeline.New(orchestrator, registry, serviceConfig.JobStore, resultsDir)

	handlers.InitJobHandler(service)

	//init worker pool
	worker.InitServices(service, jobPipeline)
	worker.InitWorkerPool(stopWorkerChannel, &workerWaitGroup)

	//server handling
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	stopExecution := make(chan bool, 1)

	shutdownParams := server.ShutdownParams{
		GracefulShutdown: gracefulShutdown,
		StopExecution:    stopExecution,
		WorkerStop:       stopWorkerChannel,
		Group:            &workerWaitGroup,
		CloseServices:    closeExternalServices,
	}
	go server.ShutDownHandler(shutdownParams)
	go server.CreateServer(listenAddr)

	<-stopExecution
	logger.Info("Server stopped")
}

func loadRegistry() (*schema.Registry, error) {
	if registryPath != "" {
		return schema.LoadFrom(registryPath)
	}
	return schema.Load()
}

func buildProvider(ctx context.Context) (gateway.Provider, error) {
	if config.APIProvider == "gemini" {
		return gemini.New(ctx, config.APIModel, config.APIKey)
	}
	return openaiwire.New(config.APIBaseURL, config.APIKey, config.APIModel), nil
}

// isNilStore guards the typed-nil case: a nil *RedisJobStore stored in the
// interface is not == nil.
func isNilStore(s jobModel.JobStore) bool {
	rs, ok := s.(*store.RedisJobStore)
	return ok && rs == nil
}
