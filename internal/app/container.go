package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/followup-call-service/internal/config"
	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/infra/db"
	"github.com/acme/followup-call-service/internal/infra/redis"
	"github.com/acme/followup-call-service/internal/locking"
	"github.com/acme/followup-call-service/internal/orchestrator"
	"github.com/acme/followup-call-service/internal/pipeline"
	"github.com/acme/followup-call-service/internal/pipeline/llm"
	"github.com/acme/followup-call-service/internal/pipeline/stt"
	"github.com/acme/followup-call-service/internal/pipeline/tts"
	"github.com/acme/followup-call-service/internal/queue"
	"github.com/acme/followup-call-service/internal/recording"
	"github.com/acme/followup-call-service/internal/repository"
	pgrepo "github.com/acme/followup-call-service/internal/repository/postgres"
	scyllarepo "github.com/acme/followup-call-service/internal/repository/scylla"
	"github.com/acme/followup-call-service/internal/telephony"
	"github.com/acme/followup-call-service/internal/telephony/ami"
	"github.com/acme/followup-call-service/internal/telephony/cloudcall"
	"github.com/acme/followup-call-service/internal/webhook"
	"github.com/acme/followup-call-service/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		publishers   *publishers
		providers    *providers
		orchestrator *orchestrator.Orchestrator
		coordinator  *pipeline.Coordinator
		verifier     *webhook.Verifier
	}
}

type repositories struct {
	Calls   repository.CallRegistry
	Journal repository.EventJournal
}

type publishers struct {
	Completed  *queue.CompletedPublisher
	Escalation *queue.EscalationPublisher
	Alert      *queue.AlertPublisher
}

type providers struct {
	Primary  telephony.Provider
	Fallback telephony.Provider
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		cfg := c.Config

		repos := &repositories{
			Calls:   pgrepo.NewCallRepository(c.Postgres.DB()),
			Journal: scyllarepo.NewEventJournal(c.Scylla.Session()),
		}

		pubs := &publishers{
			Completed:  queue.NewCompletedPublisher(c.Kafka, cfg.Kafka.CompletedTopic),
			Escalation: queue.NewEscalationPublisher(c.Kafka, cfg.Kafka.EscalationTopic),
			Alert:      queue.NewAlertPublisher(c.Kafka, cfg.Kafka.AlertTopic),
		}

		prov := &providers{}
		amiProvider := ami.NewProvider(cfg.Telephony.AMI)
		cloudProvider := cloudcall.NewProvider(cfg.Telephony.Cloud)
		if cfg.Telephony.Primary == "cloud" {
			prov.Primary = cloudProvider
		} else {
			prov.Primary = amiProvider
		}
		switch cfg.Telephony.Fallback {
		case "ami":
			prov.Fallback = amiProvider
		case "cloud":
			prov.Fallback = cloudProvider
		}

		locker := locking.NewCallLocker(c.Redis.Inner(), cfg.Scheduler.LockTTL)
		recordings := recording.NewStore(cfg.Recordings.Dir, cfg.Recordings.FetchTimeout)

		orch := orchestrator.New(orchestrator.Options{
			Registry:   repos.Calls,
			Journal:    repos.Journal,
			Locker:     locker,
			Primary:    prov.Primary,
			Fallback:   prov.Fallback,
			Completed:  pubs.Completed,
			Alerts:     pubs.Alert,
			Recordings: recordings,
			DefaultRetry: domain.RetryPolicy{
				MaxAttempts: cfg.Retry.MaxAttempts,
				RetryDelay:  cfg.Retry.RetryDelay,
			},
			OriginationTimeout: cfg.Telephony.OriginationTimeout,
			Logger:             c.Logger,
		})

		var synthesizer pipeline.Synthesizer
		if cfg.Pipeline.TTSEndpoint != "" {
			synthesizer = tts.NewClient(cfg.Pipeline.TTSEndpoint, cfg.Recordings.Dir)
		}

		coordinator := pipeline.New(pipeline.Options{
			Registry:     repos.Calls,
			Mutator:      orch,
			Transcriber:  stt.NewClient(cfg.Pipeline.STTEndpoint, cfg.Pipeline.STTModel),
			Generator:    llm.NewClient(cfg.Pipeline.LLMEndpoint, cfg.Pipeline.LLMModel),
			Synthesizer:  synthesizer,
			Escalations:  pubs.Escalation,
			StageTimeout: cfg.Pipeline.StageTimeout,
			Language:     cfg.Pipeline.Language,
			Logger:       c.Logger,
		})

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.providers = prov
		c.components.orchestrator = orch
		c.components.coordinator = coordinator
		c.components.verifier = webhook.NewVerifier(cfg.Webhook.Secret)
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Providers exposes telephony providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// Orchestrator exposes the call orchestrator.
func (c *Container) Orchestrator() *orchestrator.Orchestrator {
	c.initComponents()
	return c.components.orchestrator
}

// Coordinator exposes the AI pipeline coordinator.
func (c *Container) Coordinator() *pipeline.Coordinator {
	c.initComponents()
	return c.components.coordinator
}

// Verifier exposes the webhook verifier.
func (c *Container) Verifier() *webhook.Verifier {
	c.initComponents()
	return c.components.verifier
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{
		c.Config.Kafka.CompletedTopic,
		c.Config.Kafka.EscalationTopic,
		c.Config.Kafka.AlertTopic,
	}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if err := p.Completed.Close(); err != nil {
			errs = append(errs, fmt.Errorf("completed publisher close: %w", err))
		}
		if err := p.Escalation.Close(); err != nil {
			errs = append(errs, fmt.Errorf("escalation publisher close: %w", err))
		}
		if err := p.Alert.Close(); err != nil {
			errs = append(errs, fmt.Errorf("alert publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
