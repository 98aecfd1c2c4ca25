package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/followup-call-service/internal/app"
	"github.com/acme/followup-call-service/internal/telemetry"
	pipelineworker "github.com/acme/followup-call-service/internal/worker/pipeline"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-pipelineworker")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	cfg := container.Config
	worker := pipelineworker.New(
		container.Kafka,
		cfg.Kafka.CompletedTopic,
		cfg.Kafka.ConsumerGroupID,
		container.Coordinator(),
		container.Logger,
		cfg.Pipeline.MaxConcurrentTranscriptions,
	)
	if err := worker.Run(ctx); err != nil {
		log.Fatalf("pipeline worker terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
