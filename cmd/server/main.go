package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"torrentdrive/internal/config"
	"torrentdrive/internal/domain"
	"torrentdrive/internal/engine"
	apphttp "torrentdrive/internal/http"
	"torrentdrive/internal/repository/sqlite"
	"torrentdrive/internal/service"
	"torrentdrive/internal/storage"
	"torrentdrive/internal/worker"
	"torrentdrive/internal/ws"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}
	if strings.TrimSpace(cfg.Auth.RegisterPassword) == "" {
		logger.Fatalf("auth registration password is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	jobRepo := sqlite.NewJobRepository(db)
	userRepo := sqlite.NewUserRepository(db)

	if err := jobRepo.Init(ctx); err != nil {
		logger.Fatalf("init job repository: %v", err)
	}
	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	jobService := service.NewJobService(jobRepo)
	userService := service.NewUserService(userRepo, cfg.Auth.RegisterPassword)

	eng, err := engine.NewTorrentEngine(engine.Config{
		DataDir: cfg.Download.DataDir,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatalf("setup torrent engine: %v", err)
	}

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	uploader := worker.NewUploader(jobService, eng, storageSvc, worker.UploaderConfig{
		DownloadRoot: cfg.Download.DataDir,
		CleanupLocal: cfg.Download.CleanupLocal,
		Retry: worker.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelaySeconds) * time.Second,
		},
		Logger: logger,
	})
	uploadPool := worker.NewPool("upload", cfg.Upload.MaxConcurrent, uploader.Run, logger)

	downloader := worker.NewDownloader(jobService, eng, uploadPool, logger)
	downloadPool := worker.NewPool("download", cfg.Download.MaxConcurrent, downloader.Run, logger)

	uploadPool.Start(ctx)
	downloadPool.Start(ctx)

	reconciler := worker.NewReconciler(jobService, eng, hub,
		time.Duration(cfg.Reconcile.IntervalSeconds)*time.Second, logger)
	reconciler.Start(ctx)

	if err := resumeJobs(ctx, jobService, downloadPool, uploadPool, logger); err != nil {
		logger.Warnf("resume jobs: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		jobService,
		userService,
		eng,
		storageSvc,
		downloadPool,
		hub,
		time.Duration(cfg.Engine.MetadataTimeoutSeconds)*time.Second,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	reconciler.Stop()
	if err := downloadPool.Stop(shutdownCtx); err != nil {
		logger.Warnf("stop download pool: %v", err)
	}
	if err := uploadPool.Stop(shutdownCtx); err != nil {
		logger.Warnf("stop upload pool: %v", err)
	}
	eng.Close()

	logger.Info("bye")
}

// resumeJobs requeues work that was in flight when the process last stopped:
// downloading jobs go back to the download pool, completed and uploading jobs
// to the upload pool.
func resumeJobs(ctx context.Context, jobs service.JobService, downloads, uploads *worker.Pool, logger *logrus.Logger) error {
	resumable, err := jobs.ListByStates(ctx,
		domain.StateDownloading, domain.StateCompleted, domain.StateUploading)
	if err != nil {
		return err
	}

	for _, job := range resumable {
		req := worker.Request{JobID: job.ID, FileIndices: job.SelectedFileIndices()}
		switch job.State {
		case domain.StateDownloading:
			logger.Infof("resuming download for job %s", job.ID)
			downloads.Submit(req)
		case domain.StateCompleted, domain.StateUploading:
			logger.Infof("resuming upload for job %s", job.ID)
			uploads.Submit(req)
		}
	}
	return nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix)
}
