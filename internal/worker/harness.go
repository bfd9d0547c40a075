// Package worker implements the Worker Harness (C8): it binds a log-bus
// consumer to the replication task engine, fanning each entry out to one
// Task per pending destination site and holding the bus offset back until
// every fanned-out site's publication is enqueued.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bleepstore/replicator/internal/bus"
	"github.com/bleepstore/replicator/internal/logentry"
	"github.com/bleepstore/replicator/internal/replication"
)

// TaskFactory builds a fresh Task bound to one (entry, site) pair. A new
// Task is constructed per fan-out, matching replication.Task's "no
// cross-entry state" contract.
type TaskFactory func(entry logentry.Entry, site string) *replication.Task

// Config bounds the harness's outstanding-entry concurrency.
type Config struct {
	Concurrency int
}

// DefaultConfig matches spec's "concurrency = 10 outstanding entries per
// worker".
func DefaultConfig() Config {
	return Config{Concurrency: 10}
}

// Harness consumes entries from a log bus and drives one replication.Task
// per (entry, destination site) pair, up to Cfg.Concurrency entries
// in flight at once.
type Harness struct {
	Consumer bus.Consumer
	NewTask  TaskFactory
	// Sites lists the destination sites a DeleteEntry replicates to; it has
	// no object-level per-site status map of its own, unlike ObjectEntry.
	Sites []string
	Cfg   Config
	Logger *slog.Logger
}

func (h *Harness) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Run consumes until ctx is cancelled or the underlying consumer returns a
// fatal error. It never returns nil on a cancelled context; callers treat
// context.Canceled as expected shutdown.
func (h *Harness) Run(ctx context.Context) error {
	cfg := h.Cfg
	if cfg.Concurrency <= 0 {
		cfg = DefaultConfig()
	}
	sem := semaphore.NewWeighted(int64(cfg.Concurrency))

	return h.Consumer.Consume(ctx, func(rec bus.AckableRecord) error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func() {
			defer sem.Release(1)
			h.process(ctx, rec)
		}()
		return nil
	})
}

// process parses rec, fans it out across its destination sites, and
// resolves the record's ack/nak once every fanned-out Task has settled.
// A malformed entry is logged and dropped (committable), per the error
// handling design's Malformed contract.
func (h *Harness) process(ctx context.Context, rec bus.AckableRecord) {
	log := h.logger()

	entry, err := logentry.Parse(rec.Value)
	if err != nil {
		log.Error("dropping malformed log entry", "error", err)
		h.settle(rec, true)
		return
	}

	sites := h.sitesFor(entry)
	if len(sites) == 0 {
		h.settle(rec, true)
		return
	}

	var mu sync.Mutex
	committable := true

	g, gctx := errgroup.WithContext(ctx)
	for _, site := range sites {
		site := site
		g.Go(func() error {
			task := h.NewTask(entry, site)
			outcome, err := task.Run(gctx)
			if err != nil {
				log.Error("replication task failed", "site", site, "error", err)
			}
			if !outcome.Committable {
				mu.Lock()
				committable = false
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	h.settle(rec, committable)
}

func (h *Harness) settle(rec bus.AckableRecord, committable bool) {
	log := h.logger()
	if committable {
		if err := rec.Ack(); err != nil {
			log.Error("ack failed", "error", err)
		}
		return
	}
	if err := rec.Nak(); err != nil {
		log.Error("nak failed", "error", err)
	}
}

// sitesFor reports which destination sites entry must be replicated to.
// ObjectEntry carries its own per-site status map, populated upstream from
// bucket replication policy; sites already COMPLETED are skipped. Every
// other entry type that reaches the task engine (currently only
// DeleteEntry) fans out across the harness's static site list, since
// deletes apply unconditionally to every configured destination.
func (h *Harness) sitesFor(entry logentry.Entry) []string {
	switch e := entry.(type) {
	case *logentry.ObjectEntry:
		sites := make([]string, 0, len(e.ReplicationInfo.Sites))
		for site, status := range e.ReplicationInfo.Sites {
			if status != logentry.SiteStatusCompleted {
				sites = append(sites, site)
			}
		}
		return sites
	case *logentry.DeleteEntry:
		return h.Sites
	default:
		// ActionEntry, BucketEntry, BucketMdEntry belong to the metadata
		// mirror processor, not the replication task engine.
		return nil
	}
}
