package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"meetingalert/internal/api"
	"meetingalert/internal/config"
	"meetingalert/internal/db"
	"meetingalert/internal/delivery"
	"meetingalert/internal/engine"
	"meetingalert/internal/queue"
	"meetingalert/internal/security"
	"meetingalert/internal/store"
	"meetingalert/internal/timer"
	"meetingalert/internal/types"
)

// daemon holds the wired components and the resources to release on exit.
type daemon struct {
	engine  *engine.Engine
	sqs     *queue.SQSScheduler // nil unless SCHEDULER_BACKEND=sqs
	metrics delivery.CloudWatchClient
	probes  []api.HealthProbe
	closers []func()
}

// close releases resources in reverse order of acquisition.
func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// wire builds every component selected by cfg. AWS credentials are only
// resolved when a configured backend needs them.
func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *daemon, err error) {
	d := &daemon{}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	if err := checkWebhookURL(ctx, cfg.Delivery, security.NewGuard(), logger); err != nil {
		return nil, err
	}

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		if awsCfg, err = loadAWSConfig(ctx, cfg.AWS); err != nil {
			return nil, err
		}
	}

	alertStore, err := d.buildStore(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	scheduler, err := d.buildScheduler(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Observability.EnableMetrics {
		d.metrics = cloudwatch.NewFromConfig(awsCfg)
	}

	eng, err := engine.New(engine.Config{
		Scheduler: scheduler,
		Deliverer: buildDeliverer(cfg, d.metrics, logger),
		Store:     alertStore,
		Clock:     types.RealClock{},
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	d.engine = eng
	return d, nil
}

func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	// LocalStack
	if c.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(c.EndpointURL)
	}
	return awsCfg, nil
}

func (d *daemon) buildStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (engine.AlertStore, error) {
	sc := cfg.Store
	switch sc.Backend {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil

	case config.StoreFile:
		return store.NewFileStore(sc.FilePath), nil

	case config.StorePostgres:
		pool, err := db.NewPool(ctx, sc.DatabaseURL.Unmask(), db.PoolConfig{
			MaxConns:        int32(sc.MaxConns),
			MinConns:        int32(sc.MinConns),
			MaxConnLifetime: sc.MaxConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		d.probes = append(d.probes, api.ProbeFunc{ProbeName: "database", Fn: pool.Ping})

		repo := db.NewAlertRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return repo, nil

	case config.StoreRedis:
		client := store.NewRedisClient(sc.RedisAddrs, sc.RedisPassword.Unmask())
		d.closers = append(d.closers, func() { _ = client.Close() })
		d.probes = append(d.probes, api.ProbeFunc{
			ProbeName: "redis",
			Fn:        func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		return store.NewRedisStore(client, sc.RedisKey), nil

	case config.StoreS3:
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWS.EndpointURL != ""
		})
		return store.NewS3Store(client, sc.S3Bucket, sc.S3Key), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
}

func (d *daemon) buildScheduler(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (engine.Scheduler, error) {
	switch cfg.Scheduler.Backend {
	case config.SchedulerTimer:
		s := timer.NewScheduler(logger)
		d.closers = append(d.closers, s.Close)
		return s, nil

	case config.SchedulerSQS:
		d.sqs = queue.NewSQSScheduler(sqs.NewFromConfig(awsCfg), cfg.Scheduler, logger)
		return d.sqs, nil
	}
	return nil, fmt.Errorf("unknown scheduler backend %q", cfg.Scheduler.Backend)
}

// buildDeliverer always includes the log sink and adds the webhook sink when
// a URL is configured. With metrics enabled each sink reports separately.
func buildDeliverer(cfg *config.Config, metrics delivery.CloudWatchClient, logger *slog.Logger) delivery.Fanout {
	var sinks delivery.Fanout
	add := func(name string, sink engine.Deliverer) {
		if metrics != nil {
			sink = delivery.NewInstrumentedDeliverer(sink, name, metrics, cfg.Observability.MetricNamespace, logger)
		}
		sinks = append(sinks, sink)
	}

	add("log", delivery.NewLogDeliverer(logger))
	if cfg.Delivery.WebhookURL != "" {
		add("webhook", delivery.NewWebhookDeliverer(cfg.Delivery, webhookClient(cfg.Delivery), logger))
	}
	return sinks
}

// webhookClient returns the egress-guarded client unless private receivers
// are explicitly allowed.
func webhookClient(dc config.DeliveryConfig) *http.Client {
	if dc.AllowPrivate {
		return &http.Client{Timeout: dc.WebhookTimeout}
	}
	return security.NewGuard().Client(dc.WebhookTimeout, dc.MaxRedirects)
}

// checkWebhookURL rejects a webhook URL that resolves into a blocked range.
// A lookup failure is only logged; the receiver may simply be unreachable
// right now.
func checkWebhookURL(ctx context.Context, dc config.DeliveryConfig, guard *security.Guard, logger *slog.Logger) error {
	if dc.WebhookURL == "" || dc.AllowPrivate {
		return nil
	}
	err := guard.CheckURL(ctx, dc.WebhookURL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, security.ErrBlocked):
		return fmt.Errorf("webhook url rejected: %w", err)
	default:
		logger.WarnContext(ctx, "webhook url preflight failed", "error", err)
		return nil
	}
}
