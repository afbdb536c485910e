// Package warehub wires the data-platform control plane together: the task
// submission gateway, the background worker pool, the session lifecycle
// manager and the warehouse browsing service, all sharing one Redis-backed
// progress store and one task stream.
//
// # Multi-Node Operation
//
// Multiple processes with the same Name, Redis and Mongo connections form a
// cluster. They share the task stream through one consumer group (each task
// runs on exactly one node), coordinate the session sweeper via a distributed
// ticker (one sweep per interval across the cluster) and share the LLM token
// budget via a replicated map.
package warehub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"goa.design/clue/log"
	"goa.design/pulse/pool"
	"goa.design/pulse/rmap"

	"github.com/openplane/warehub/llm"
	"github.com/openplane/warehub/llm/middleware"
	"github.com/openplane/warehub/org"
	orginmem "github.com/openplane/warehub/org/inmem"
	orgmongo "github.com/openplane/warehub/org/mongo"
	progressredis "github.com/openplane/warehub/progress/redis"
	"github.com/openplane/warehub/queue"
	"github.com/openplane/warehub/session"
	sessinmem "github.com/openplane/warehub/session/inmem"
	sessmongo "github.com/openplane/warehub/session/mongo"
	"github.com/openplane/warehub/singleflight"
	"github.com/openplane/warehub/tasks"
	"github.com/openplane/warehub/telemetry"
	"github.com/openplane/warehub/warehouse"
	"github.com/openplane/warehub/warehouse/postgres"
	"github.com/openplane/warehub/worker"
)

type (
	// Platform is the assembled control plane. Construct it with New, start
	// background processing with Start or Run, and release resources with
	// Close.
	Platform struct {
		gateway  *tasks.Gateway
		sessions *session.Manager
		browse   *warehouse.Service
		orgs     org.Store

		worker  *worker.Worker
		sweeper *session.Sweeper

		queueClient queue.Client
		poolNode    *pool.Node
		budgetMap   *rmap.Map
		redis       *redis.Client
	}

	// Config configures a Platform.
	Config struct {
		// Redis backs the progress store, the task stream and cluster
		// coordination. Required.
		Redis *redis.Client
		// Mongo persists sessions and warehouse registrations. When nil both
		// fall back to in-memory stores, which only makes sense for local
		// development and tests.
		Mongo *mongodriver.Client
		// Database is the Mongo database name. Defaults to "warehub".
		Database string
		// Name derives the cluster resource names (stream, consumer group,
		// pool, LLM budget map). Processes sharing a Name form a cluster.
		// Defaults to "warehub".
		Name string
		// Summarizer answers summarization prompts. Required.
		Summarizer llm.Summarizer
		// Factory routes warehouse registrations to engine drivers. Defaults
		// to a factory with the Postgres driver registered.
		Factory *warehouse.Factory
		// Concurrency is the number of concurrent task handlers per process.
		Concurrency int
		// MaxLLMRows caps summarization result sets.
		MaxLLMRows int
		// ProgressTTL bounds how long task progress histories stay readable.
		ProgressTTL time.Duration
		// SummarizeTTL bounds summarization single-flight markers.
		SummarizeTTL time.Duration
		// SweepInterval is the unsaved-session sweep cadence.
		SweepInterval time.Duration
		// SessionRetention is how long unsaved sessions are kept.
		SessionRetention time.Duration
		// LLMTokensPerMinute is the initial shared LLM token budget. Zero
		// disables rate limiting.
		LLMTokensPerMinute float64
		// LLMMaxTokensPerMinute caps the adaptive budget's recovery.
		LLMMaxTokensPerMinute float64
	}
)

// New assembles a Platform. The caller owns the Redis and Mongo clients and
// must call Close when done.
func New(ctx context.Context, cfg Config) (*Platform, error) {
	if cfg.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Summarizer == nil {
		return nil, errors.New("summarizer is required")
	}
	name := cfg.Name
	if name == "" {
		name = "warehub"
	}
	database := cfg.Database
	if database == "" {
		database = "warehub"
	}
	streamName := name + ":tasks"
	sinkName := name + "-workers"
	budgetMapName := name + ":llm"

	progressStore, err := progressredis.New(progressredis.Options{Redis: cfg.Redis})
	if err != nil {
		return nil, fmt.Errorf("create progress store: %w", err)
	}

	var (
		orgStore     org.Store
		sessionStore session.Store
	)
	if cfg.Mongo != nil {
		orgStore, err = orgmongo.New(orgmongo.Options{Client: cfg.Mongo, Database: database})
		if err != nil {
			return nil, fmt.Errorf("create org store: %w", err)
		}
		sessionStore, err = sessmongo.New(sessmongo.Options{Client: cfg.Mongo, Database: database})
		if err != nil {
			return nil, fmt.Errorf("create session store: %w", err)
		}
	} else {
		log.Printf(ctx, "mongo not configured, using in-memory stores")
		orgStore = orginmem.New()
		sessionStore = sessinmem.New()
	}

	queueClient, err := queue.New(queue.Options{Redis: cfg.Redis})
	if err != nil {
		return nil, fmt.Errorf("create queue client: %w", err)
	}
	stream, err := queueClient.Stream(streamName)
	if err != nil {
		return nil, fmt.Errorf("open task stream: %w", err)
	}

	guard, err := singleflight.New(progressStore)
	if err != nil {
		return nil, fmt.Errorf("create singleflight guard: %w", err)
	}

	poolNode, err := pool.AddNode(ctx, name, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("add pool node: %w", err)
	}

	// Shared LLM budget map; the limiter falls back to process-local when
	// rate limiting is disabled.
	var budgetMap *rmap.Map
	summarizer := cfg.Summarizer
	if cfg.LLMTokensPerMinute > 0 {
		budgetMap, err = rmap.Join(ctx, budgetMapName, cfg.Redis)
		if err != nil {
			closeErr := poolNode.Close(ctx)
			return nil, errors.Join(fmt.Errorf("join llm budget map: %w", err), closeErr)
		}
		limiter := middleware.NewAdaptiveRateLimiter(ctx, budgetMap, "tpm",
			cfg.LLMTokensPerMinute, cfg.LLMMaxTokensPerMinute)
		summarizer = limiter.Wrap(summarizer)
	}

	factory := cfg.Factory
	if factory == nil {
		factory = warehouse.NewFactory()
		factory.Register(org.WarehousePostgres, postgres.Opener{})
	}
	browse, err := warehouse.NewService(orgStore, factory)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create warehouse service: %w", err), closeCluster(ctx, budgetMap, poolNode))
	}

	metrics := telemetry.New()
	gateway, err := tasks.NewGateway(tasks.GatewayOptions{
		Orgs:         orgStore,
		Progress:     progressStore,
		Stream:       stream,
		Guard:        guard,
		MaxLLMRows:   cfg.MaxLLMRows,
		ProgressTTL:  cfg.ProgressTTL,
		SummarizeTTL: cfg.SummarizeTTL,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create gateway: %w", err), closeCluster(ctx, budgetMap, poolNode))
	}

	manager, err := session.NewManager(sessionStore)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create session manager: %w", err), closeCluster(ctx, budgetMap, poolNode))
	}

	sweeper, err := session.NewSweeper(session.SweeperOptions{
		Store:     sessionStore,
		Node:      poolNode,
		Interval:  cfg.SweepInterval,
		Retention: cfg.SessionRetention,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create sweeper: %w", err), closeCluster(ctx, budgetMap, poolNode))
	}

	wrk, err := worker.New(worker.Options{
		Queue:       queueClient,
		StreamName:  streamName,
		SinkName:    sinkName,
		Progress:    progressStore,
		Sessions:    sessionStore,
		Warehouses:  browse,
		Summarizer:  summarizer,
		Concurrency: cfg.Concurrency,
		ProgressTTL: cfg.ProgressTTL,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create worker: %w", err), closeCluster(ctx, budgetMap, poolNode))
	}

	return &Platform{
		gateway:     gateway,
		sessions:    manager,
		browse:      browse,
		orgs:        orgStore,
		worker:      wrk,
		sweeper:     sweeper,
		queueClient: queueClient,
		poolNode:    poolNode,
		budgetMap:   budgetMap,
		redis:       cfg.Redis,
	}, nil
}

// Gateway returns the task submission gateway.
func (p *Platform) Gateway() *tasks.Gateway { return p.gateway }

// Sessions returns the session lifecycle manager.
func (p *Platform) Sessions() *session.Manager { return p.sessions }

// Warehouses returns the warehouse browsing service.
func (p *Platform) Warehouses() *warehouse.Service { return p.browse }

// Orgs returns the warehouse registration store.
func (p *Platform) Orgs() org.Store { return p.orgs }

// Start launches the background worker pool and the session sweeper.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.worker.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	if err := p.sweeper.Start(ctx); err != nil {
		p.worker.Close(ctx)
		return fmt.Errorf("start sweeper: %w", err)
	}
	return nil
}

// Run starts background processing and blocks until the context is canceled
// or a termination signal is received, then shuts down gracefully.
func (p *Platform) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		log.Printf(ctx, "received %s, shutting down", sig)
	}

	return p.Close(ctx)
}

// Close stops background processing and releases cluster resources. It does
// not close the Redis or Mongo clients passed in Config; the caller owns
// those.
func (p *Platform) Close(ctx context.Context) error {
	var errs []error

	p.sweeper.Stop()
	p.worker.Close(ctx)

	if p.budgetMap != nil {
		p.budgetMap.Close()
	}
	if err := p.poolNode.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close pool node: %w", err))
	}
	if err := p.queueClient.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close queue client: %w", err))
	}
	return errors.Join(errs...)
}

func closeCluster(ctx context.Context, budgetMap *rmap.Map, node *pool.Node) error {
	if budgetMap != nil {
		budgetMap.Close()
	}
	return node.Close(ctx)
}
