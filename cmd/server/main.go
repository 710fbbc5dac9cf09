// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/activity"
	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/controller"
	"github.com/unclebandit/campaign-engine/internal/db"
	"github.com/unclebandit/campaign-engine/internal/fatigue"
	"github.com/unclebandit/campaign-engine/internal/handler"
	"github.com/unclebandit/campaign-engine/internal/logger"
	"github.com/unclebandit/campaign-engine/internal/repository"
	"github.com/unclebandit/campaign-engine/internal/scheduler"
	"github.com/unclebandit/campaign-engine/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DSN(), log)
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	outboundRepo := &repository.OutboundMessageRepository{DB: conn}
	taskRepo := &repository.TaskRepository{DB: conn}
	activityRepo := &repository.ActivityRepository{DB: conn}

	sink := activity.NewLoggingSink(activityRepo, log)
	fatigueSvc := fatigue.NewService(recipientRepo, log)

	campaignService := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		RecipientRepo: recipientRepo,
		OutboundRepo:  outboundRepo,
		TaskRepo:      taskRepo,
		Scheduler:     scheduler.New(campaignRepo, taskRepo, sink, log),
	}

	router := controller.NewRouter(
		&controller.CampaignController{CampaignService: campaignService, Log: log},
		handler.NewFatigueHandler(fatigueSvc, recipientRepo, log),
		&handler.WebhookHandler{
			Delivery:   service.NewDeliveryService(outboundRepo, campaignRepo, fatigueSvc, log),
			Campaigns:  campaignRepo,
			Recipients: recipientRepo,
			Messages:   outboundRepo,
			Fatigue:    fatigueSvc,
			Log:        log,
		},
		log,
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
	}()

	log.Info("server running", zap.String("addr", cfg.HTTPAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("http server failed", zap.Error(err))
	}
}
