// Command warehub runs a data-platform control-plane node: task submission
// gateway, background worker pool and session sweeper.
//
// # Clustering
//
// Multiple nodes with the same WAREHUB_NAME, REDIS_URL and MONGO_URL form a
// cluster: tasks are distributed across nodes through one consumer group and
// the session sweeper fires on exactly one node per interval.
//
// # Configuration
//
// Environment variables:
//
//	WAREHUB_NAME        - Cluster name (default: "warehub")
//	REDIS_URL           - Redis address (default: "localhost:6379")
//	REDIS_PASSWORD      - Redis password (optional)
//	MONGO_URL           - MongoDB connection URI (optional; in-memory stores when unset)
//	MONGO_DB            - MongoDB database name (default: "warehub")
//	LLM_PROVIDER        - "anthropic" or "openai" (default: "anthropic")
//	LLM_MODEL           - Model identifier (default per provider)
//	ANTHROPIC_API_KEY   - API key when LLM_PROVIDER=anthropic
//	OPENAI_API_KEY      - API key when LLM_PROVIDER=openai
//	LLM_TPM             - Shared LLM token budget per minute (default: 60000)
//	LLM_MAX_TPM         - Budget recovery ceiling (default: LLM_TPM)
//	WORKER_CONCURRENCY  - Concurrent task handlers per node (default: 4)
//	MAX_LLM_ROWS        - Row cap for summarization queries (default: 500)
//	PROGRESS_TTL        - Progress history expiry (default: "1h")
//	SESSION_RETENTION   - Unsaved session retention (default: "24h")
//	SWEEP_INTERVAL      - Session sweep cadence (default: "1h")
//	DEBUG               - Enable debug logging when set
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"goa.design/clue/log"

	warehub "github.com/openplane/warehub"
	"github.com/openplane/warehub/llm"
	"github.com/openplane/warehub/llm/anthropic"
	"github.com/openplane/warehub/llm/openai"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultOpenAIModel    = "gpt-4o-mini"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if os.Getenv("DEBUG") != "" {
		ctx = log.Context(ctx, log.WithDebug())
	}
	if err := run(ctx); err != nil {
		log.Fatalf(ctx, err, "warehub exited")
	}
}

func run(ctx context.Context) error {
	name := envOr("WAREHUB_NAME", "warehub")

	rdb := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_URL", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Errorf(ctx, err, "close redis")
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	var mongoClient *mongodriver.Client
	if uri := os.Getenv("MONGO_URL"); uri != "" {
		var err error
		mongoClient, err = mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(uri))
		if err != nil {
			return fmt.Errorf("connect to mongo: %w", err)
		}
		defer func() {
			if err := mongoClient.Disconnect(ctx); err != nil {
				log.Errorf(ctx, err, "disconnect mongo")
			}
		}()
		if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			return fmt.Errorf("ping mongo: %w", err)
		}
	}

	summarizer, err := buildSummarizer()
	if err != nil {
		return err
	}

	llmTPM := envFloatOr("LLM_TPM", 60000)
	platform, err := warehub.New(ctx, warehub.Config{
		Redis:                 rdb,
		Mongo:                 mongoClient,
		Database:              envOr("MONGO_DB", "warehub"),
		Name:                  name,
		Summarizer:            summarizer,
		Concurrency:           envIntOr("WORKER_CONCURRENCY", 4),
		MaxLLMRows:            envIntOr("MAX_LLM_ROWS", 500),
		ProgressTTL:           envDurationOr("PROGRESS_TTL", time.Hour),
		SessionRetention:      envDurationOr("SESSION_RETENTION", 24*time.Hour),
		SweepInterval:         envDurationOr("SWEEP_INTERVAL", time.Hour),
		LLMTokensPerMinute:    llmTPM,
		LLMMaxTokensPerMinute: envFloatOr("LLM_MAX_TPM", llmTPM),
	})
	if err != nil {
		return fmt.Errorf("assemble platform: %w", err)
	}

	log.Printf(ctx, "starting %s node", name)
	if err := platform.Run(ctx); err != nil {
		return fmt.Errorf("run platform: %w", err)
	}
	return nil
}

func buildSummarizer() (llm.Summarizer, error) {
	provider := envOr("LLM_PROVIDER", "anthropic")
	switch provider {
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for LLM_PROVIDER=anthropic")
		}
		return anthropic.NewFromAPIKey(key, envOr("LLM_MODEL", defaultAnthropicModel))
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for LLM_PROVIDER=openai")
		}
		return openai.NewFromAPIKey(key, envOr("LLM_MODEL", defaultOpenAIModel))
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", provider)
	}
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envIntOr returns the environment variable as int or a default.
func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envFloatOr returns the environment variable as float64 or a default.
func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
