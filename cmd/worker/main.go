package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/activity"
	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/db"
	"github.com/unclebandit/campaign-engine/internal/dispatch"
	"github.com/unclebandit/campaign-engine/internal/fatigue"
	"github.com/unclebandit/campaign-engine/internal/lock"
	"github.com/unclebandit/campaign-engine/internal/logger"
	"github.com/unclebandit/campaign-engine/internal/queue"
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

	q, closeQueue := openQueue(cfg, log)
	defer closeQueue()
	locker, closeLocker := openLocker(ctx, cfg, log)
	defer closeLocker()

	// Repositories
	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	outboundRepo := &repository.OutboundMessageRepository{DB: conn}
	taskRepo := &repository.TaskRepository{DB: conn}
	activityRepo := &repository.ActivityRepository{DB: conn}

	sink := activity.NewLoggingSink(activityRepo, log)
	fatigueSvc := fatigue.NewService(recipientRepo, log)
	sched := scheduler.New(campaignRepo, taskRepo, sink, log)

	gen := service.NewMessageGenerator(campaignRepo, recipientRepo, outboundRepo, fatigueSvc, dispatch.NewQueueDispatcher(q), sink, log)
	gen.PageSize = cfg.RecipientPageSize

	if err := service.NewWorker(gen, sched, locker, cfg.LeaseTTL, log).Start(q); err != nil {
		log.Fatal("failed to start generation worker", zap.Error(err))
	}
	if err := service.NewDeliveryService(outboundRepo, campaignRepo, fatigueSvc, log).Subscribe(q); err != nil {
		log.Fatal("failed to start receipt consumer", zap.Error(err))
	}
	if cfg.MockSender {
		if err := dispatch.NewMockSender(q, cfg.MockSenderSuccessRate, log).Start(); err != nil {
			log.Fatal("failed to start mock sender", zap.Error(err))
		}
	}

	poller := scheduler.NewPoller(taskRepo, q, cfg.VisibilityTimeout, log)
	if err := poller.Start(ctx, cfg.PollInterval); err != nil {
		log.Fatal("failed to start poller", zap.Error(err))
	}

	log.Info("worker running",
		zap.String("queue", cfg.QueueDriver),
		zap.String("lock", cfg.LockDriver),
		zap.Duration("poll_interval", cfg.PollInterval))
	<-ctx.Done()

	log.Info("shutting down")
	poller.Stop()
	if mq, ok := q.(*queue.InMemoryQueue); ok {
		mq.Wait()
	}
}

func openQueue(cfg *config.Config, log *zap.Logger) (queue.Queue, func()) {
	if cfg.QueueDriver == "amqp" {
		rq, err := queue.DialRabbit(cfg.AMQPURL, log, cfg.QueueMaxRetries)
		if err != nil {
			log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
		}
		return rq, func() {
			if err := rq.Close(); err != nil {
				log.Warn("close rabbitmq", zap.Error(err))
			}
		}
	}
	return queue.NewInMemoryQueue(log, cfg.QueueMaxRetries), func() {}
}

func openLocker(ctx context.Context, cfg *config.Config, log *zap.Logger) (lock.Locker, func()) {
	if cfg.LockDriver == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		return lock.NewRedisLocker(client, "campaign-engine:"), func() { _ = client.Close() }
	}
	return lock.NewLocalLocker(), func() {}
}
