package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"clearinghouse/audit"
	"clearinghouse/auth"
	"clearinghouse/compliance"
	"clearinghouse/config"
	"clearinghouse/db"
	"clearinghouse/httpapi"
	"clearinghouse/metrics"
	"clearinghouse/negotiation"
	"clearinghouse/outbox"
	"clearinghouse/party"
	"clearinghouse/transaction"
	"clearinghouse/validation"
)

func main() {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	m := metrics.New()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("parse redis url: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	ledger := audit.NewLedger(audit.NewRepository(pool)).WithMetrics(m)
	validationRepo := validation.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	txService := transaction.NewService(pool, transaction.NewRepository(pool), ledger, validationRepo).
		WithOutbox(outboxRepo).
		WithApprovalsCache(validation.NewApprovalCache(rdb, 5*time.Minute)).
		WithMetrics(m)
	negService := negotiation.NewService(pool, negotiation.NewRepository(pool), ledger, txService).
		WithMetrics(m)
	reportGen := compliance.NewGenerator(pool, ledger).WithMetrics(m)
	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	partyService := party.NewService(party.NewRepository(pool))

	handler := httpapi.New(httpapi.Deps{
		Auth:         authService,
		Transactions: txService,
		Negotiations: negService,
		Ledger:       ledger,
		Reports:      reportGen,
		Parties:      partyService,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Printf("api listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := outbox.NewKafkaPublisher(cfg.KafkaBrokers)
		if err != nil {
			log.Fatalf("bootstrap kafka publisher: %v", err)
		}
		defer publisher.Close()
		relay := outbox.NewRelay(outboxRepo, publisher, cfg.RelayInterval).WithMetrics(m)
		group.Go(func() error {
			err := relay.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n, err := negService.SweepExpired(gctx); err != nil {
					log.Printf("negotiation sweep: %v", err)
				} else if n > 0 {
					log.Printf("negotiation sweep: expired %d rounds", n)
				}
			}
		}
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
