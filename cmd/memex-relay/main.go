package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/systemshift/memex-relay/internal/httpapi"
	"github.com/systemshift/memex-relay/internal/relay"
)

func main() {
	addr := os.Getenv("MEMEX_RELAY_ADDR")
	if addr == "" {
		addr = ":5000"
	}

	cachePath := os.Getenv("MEMEX_RELAY_TOKEN_CACHE_FILE")
	if cachePath == "" {
		cachePath = relay.DefaultTokenCachePath()
	}
	tokens := relay.NewTokenCache(cachePath)
	if err := tokens.Watch(); err != nil {
		log.Printf("token cache watch disabled: %v", err)
	}
	defer tokens.Close()

	client := relay.NewGraphClient(relay.GraphClientOptions{
		BaseURL:    os.Getenv("MEMEX_RELAY_GRAPH_BASE_URL"),
		Tokens:     tokens,
		UserAgent:  "memex-relay/1.0",
		MaxRetries: intEnv("MEMEX_RELAY_MAX_RETRIES", 0),
		BaseDelay:  durationEnv("MEMEX_RELAY_RETRY_BASE_DELAY", 0),
		MaxDelay:   durationEnv("MEMEX_RELAY_RETRY_MAX_DELAY", 0),
	})

	oplog, err := relay.BuildOpLogFromDSN(os.Getenv("MEMEX_RELAY_OPLOG_DSN"), intEnv("MEMEX_RELAY_MAX_STORED_OPS", 0))
	if err != nil {
		log.Fatalf("failed to initialize operation log: %v", err)
	}

	svc := relay.NewService(relay.ServiceOptions{
		Client: client,
		OpLog:  oplog,
	})
	server := httpapi.NewServerWithConfig(svc, httpapi.ServerConfig{
		Token:        os.Getenv("MEMEX_RELAY_TOKEN"),
		MaxBodyBytes: int64Env("MEMEX_RELAY_MAX_BODY_BYTES", 0),
	})

	log.Printf("memex-relay listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
