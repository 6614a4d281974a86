package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/ips-responder/internal/config"
	"github.com/invisible-tech/ips-responder/internal/dispatcher"
	"github.com/invisible-tech/ips-responder/internal/eventbus"
	"github.com/invisible-tech/ips-responder/internal/ingest"
	"github.com/invisible-tech/ips-responder/internal/inventory"
	"github.com/invisible-tech/ips-responder/internal/rules"
	"github.com/invisible-tech/ips-responder/internal/server"
	"github.com/invisible-tech/ips-responder/internal/version"
	"github.com/invisible-tech/ips-responder/pkg/netpolicy"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.DefaultResponderConfig()
	log.SetLevel(cfg.LogLevel)

	bus := eventbus.New(cfg.SubscriberBuffer, log)
	log.AddHook(eventbus.NewLogHook(bus, cfg.LogStreamLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.WithFields(logrus.Fields{
		"version":       version.Version,
		"rules_backend": cfg.RulesBackend,
		"label_key":     cfg.LabelKey,
	}).Info("Starting IPS responder")

	var (
		storage     rules.Storage
		fileStorage *rules.FileStorage
		redisClient *redis.Client
	)
	switch cfg.RulesBackend {
	case config.BackendRedis:
		client, err := rules.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.WithError(err).Fatal("Rules backend unavailable")
		}
		redisClient = client
		storage = rules.NewRedisStorage(client, cfg.RedisRulesKey)
	default:
		fileStorage = rules.NewFileStorage(cfg.RulesFile)
		storage = fileStorage
	}

	store := rules.NewStore(ctx, storage, log, rules.WithPublisher(bus))
	if fileStorage != nil && cfg.RulesWatch {
		watcher, err := rules.NewWatcher(store, fileStorage, log)
		if err != nil {
			log.WithError(err).Warn("Rules file watcher disabled")
		} else {
			go watcher.Start(ctx)
		}
	}

	clientset, err := inventory.NewClientset(cfg.Kubeconfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to build Kubernetes client")
	}
	inv := inventory.NewKube(clientset, cfg.ClusterTimeout, log)

	d := dispatcher.New(store, inv, bus, cfg.LabelKey, log)

	if len(cfg.PolicyNamespaces) > 0 {
		policies := netpolicy.NewManager(clientset, cfg.LabelKey, log)
		if err := policies.EnsureAll(ctx, cfg.PolicyNamespaces); err != nil {
			log.WithError(err).Warn("Isolation policies not fully installed")
		}
	}

	var consumer *ingest.Consumer
	if cfg.KafkaEnabled() {
		consumer, err = ingest.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, d, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to create alert consumer")
		}
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.WithError(err).Error("Alert consumer stopped")
			}
		}()
	}

	srv := server.New(cfg, store, d, inv, bus, log)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Responder server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down responder")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	if consumer != nil {
		_ = consumer.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
