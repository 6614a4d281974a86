// labelguard is a validating admission webhook that rejects changes to the
// isolation label on pods unless they come from an allowed identity.
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/ips-responder/internal/config"
	"github.com/invisible-tech/ips-responder/internal/webhook"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.DefaultGuardConfig()
	log.SetLevel(cfg.LogLevel)

	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to load TLS certificates")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           webhook.NewHandler(cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down label guard")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	log.WithFields(logrus.Fields{
		"addr":      cfg.HTTPAddr,
		"label_key": cfg.LabelKey,
		"allowed":   cfg.AllowedUsers,
	}).Info("Starting label guard webhook")
	if err := server.ListenAndServeTLS("", ""); err != http.ErrServerClosed {
		log.WithError(err).Fatal("Server failed")
	}
}
