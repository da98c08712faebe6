package probe

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

// Pinger is the part of a redis client the probe needs
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisProbe checks the session persistence surface with PING
type RedisProbe struct {
	base
	client Pinger
}

func NewRedisProbe(name string, client Pinger, opts Options) *RedisProbe {
	return &RedisProbe{
		base:   base{name: name, component: domain.ComponentDatabase, opts: opts.withDefaults()},
		client: client,
	}
}

func (p *RedisProbe) Run(ctx context.Context) domain.HealthCheckResult {
	return p.run(ctx, func(ctx context.Context) error {
		pong, err := p.client.Ping(ctx).Result()
		if err != nil {
			return connectivity(err)
		}
		if pong != "PONG" {
			return &domain.ValidationError{Message: "unexpected PING reply " + pong}
		}
		return nil
	})
}
