package loginstate

import (
	"context"
	"os"
	"testing"

	"github.com/campus-carpool/rides-api/internal/adapters/contracttest"
	redisadapter "github.com/campus-carpool/rides-api/internal/adapters/redis"
	loginstateport "github.com/campus-carpool/rides-api/internal/ports/out/loginstate"
)

func TestContract_RedisLoginStateStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set; skipping redis tests")
	}
	client, err := redisadapter.NewClient(context.Background(), url)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	contracttest.RunLoginStateStore(t, func(t *testing.T) (loginstateport.Store, func()) {
		t.Helper()
		return NewStore(client), nil
	})
}
