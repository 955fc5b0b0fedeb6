package health

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestRedisChecker_ContextCancellation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	checker := NewRedisChecker(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := checker.HealthCheck(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
