package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/skyassure/peerreview-backend/internal/clients/redis"
	"github.com/skyassure/peerreview-backend/internal/platform/gcp"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/platform/neo4jdb"
	"github.com/skyassure/peerreview-backend/internal/platform/sendgrid"
	"github.com/skyassure/peerreview-backend/internal/temporalx"
)

// Clients holds external connections. Bus, Redis, Mail, Temporal and Graph
// are all optional: a missing env config leaves them nil and the features
// they back degrade (no cross-instance SSE, no cached stats, no email, no
// low-latency dispatch, no graph projections).
type Clients struct {
	Bus      redis.Bus
	Redis    *goredis.Client
	Bucket   gcp.BucketService
	Mail     sendgrid.Client
	Temporal temporalsdkclient.Client
	Graph    *neo4jdb.Client
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	var bus redis.Bus
	var rdb *goredis.Client
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		b, err := redis.NewBus(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis bus: %w", err)
		}
		bus = b
		c, err := redis.NewClient(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis client: %w", err)
		}
		rdb = c
	}

	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init bucket client: %w", err)
	}

	var mail sendgrid.Client
	if strings.TrimSpace(os.Getenv("SENDGRID_API_KEY")) != "" {
		m, err := sendgrid.NewFromEnv(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init sendgrid client: %w", err)
		}
		mail = m
	} else {
		log.Warn("SENDGRID_API_KEY not set; notification email delivery disabled")
	}

	tc, err := temporalx.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}

	graph, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init neo4j client: %w", err)
	}

	return Clients{
		Bus:      bus,
		Redis:    rdb,
		Bucket:   bucket,
		Mail:     mail,
		Temporal: tc,
		Graph:    graph,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Graph != nil {
		_ = c.Graph.Close(context.Background())
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
}
