package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"transit-assigner/internal/assign"
	"transit-assigner/internal/config"
	"transit-assigner/internal/db"
	"transit-assigner/internal/gtfs"
	"transit-assigner/internal/ingest"
	"transit-assigner/internal/metrics"
	"transit-assigner/internal/publisher"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	// The schedule is loaded once and held in memory for the session
	src, err := db.LoadSource(ctx, sqlDB)
	if err != nil {
		log.Fatalf("schedule load error: %v", err)
	}
	sched := gtfs.NewSchedule(src, cfg.Location, cfg.DayStartHour)
	log.Printf("schedule loaded: %d stops, %d trips, %d blocks", len(src.Stops), len(src.Trips), sched.BlockCount())

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector()
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.EventSubject, cfg.FixSubject, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
	if err != nil {
		log.Fatalf("nats publisher error: %v", err)
	}
	defer pub.Close()

	sub, err := ingest.NewSubscriber(cfg.NATSURL, cfg.PositionSubject)
	if err != nil {
		log.Fatalf("nats subscriber error: %v", err)
	}

	engine := assign.NewEngine(sched, cfg.Tunables, pub, wrapEngineMetrics(mcol), cfg.ManualOverrides)

	// Serial engine loop: one position fully applied before the next
	go func() {
		for p := range sub.Positions() {
			engine.ProcessPosition(p)
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	sub.Close()
	log.Println("shutdown complete")
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics
// interface while keeping nil (metrics disabled) nil.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return c
}

func wrapEngineMetrics(c *metrics.Collector) assign.Metrics {
	if c == nil {
		return nil
	}
	return c
}
