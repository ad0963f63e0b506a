package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"coachline.org/internal/chat"
	"coachline.org/internal/engage"
	"coachline.org/internal/httpapi"
	"coachline.org/internal/obs"
	"coachline.org/internal/quota"
	"coachline.org/internal/ratelimit"
	"coachline.org/internal/sat"
	"coachline.org/internal/store/pg"
)

// Overridden at build time via -ldflags.
var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := envOr("COACHLINE_ADDR", ":8080")
	grpcAddr := os.Getenv("COACHLINE_GRPC_ADDR")
	issueLimit := envIntOr("COACHLINE_ISSUE_LIMIT", ratelimit.DefaultLimit)
	tokenTTL := envDurationOr("COACHLINE_SAT_TTL", sat.DefaultTTL)

	var (
		store   *pg.Store
		ledger  sat.ReplayLedger
		limiter ratelimit.Limiter
		ent     quota.Entitlements
		msgs    interface {
			chat.Store
			quota.Store
		}
		engagements engage.Store
		probe       httpapi.ReadyProbe
	)

	if dsn := os.Getenv("COACHLINE_PG_DSN"); dsn != "" {
		var err error
		store, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ledger = store.Replay()
		limiter = store.RateWindows(issueLimit, ratelimit.DefaultWindow)
		ent = store.Entitlements()
		msgs = store.Messages()
		engagements = store.Engagements()
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		// Single-instance dev mode; durable state requires COACHLINE_PG_DSN.
		log.Println("COACHLINE_PG_DSN not set, using in-memory stores")
		ledger = sat.NewInMemoryLedger()
		limiter = ratelimit.NewFixedWindow(issueLimit, ratelimit.DefaultWindow)
		ent = quota.NewStaticEntitlements(nil)
		msgs = chat.NewInMemoryStore()
		engagements = engage.NewInMemoryStore()
	}

	quotaLedger := quota.NewLedger(msgs, ent)
	api := httpapi.New(probe, version, httpapi.Services{
		Issuer:      sat.NewIssuer(ledger, limiter, sat.WithTTL(tokenTTL)),
		Verifier:    sat.NewVerifier(ledger),
		Chat:        chat.NewService(msgs, quotaLedger, engagements),
		Engagements: engage.NewService(engagements, ent),
		Quota:       quotaLedger,
	})

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Expired replay records and closed rate windows are hygiene, not
	// correctness; purge them on a slow cadence.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
				if n, err := ledger.PurgeExpired(ctx, time.Now().UTC()); err != nil {
					log.Printf("purge replay records: %v", err)
				} else if n > 0 {
					log.Printf("purged %d expired replay records", n)
				}
				if store != nil {
					if _, err := store.RateWindows(issueLimit, ratelimit.DefaultWindow).Sweep(ctx, time.Now().UTC()); err != nil {
						log.Printf("sweep rate windows: %v", err)
					}
				}
				cancel()
			}
		}
	}()

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting coachline-api %s on %s", version, srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var healthSrv *httpapi.HealthServer
	if grpcAddr != "" {
		healthSrv = httpapi.NewHealthServer(probe)
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		go healthSrv.Watch(rootCtx, 10*time.Second)
		go func() {
			if err := healthSrv.GRPC().Serve(lis); err != nil {
				log.Printf("grpc serve: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", grpcAddr)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("Shutting down...")
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if healthSrv != nil {
		healthSrv.GRPC().GracefulStop()
	}
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("invalid %s=%q, using %d", key, v, def)
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("invalid %s=%q, using %s", key, v, def)
	}
	return def
}
