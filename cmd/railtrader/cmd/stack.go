package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rustyeddy/railtrader/bars"
	"github.com/rustyeddy/railtrader/broker"
	"github.com/rustyeddy/railtrader/broker/sim"
	"github.com/rustyeddy/railtrader/config"
	"github.com/rustyeddy/railtrader/dispatch"
	"github.com/rustyeddy/railtrader/engine"
	"github.com/rustyeddy/railtrader/journal"
	"github.com/rustyeddy/railtrader/metrics"
	"github.com/rustyeddy/railtrader/news"
	"github.com/rustyeddy/railtrader/pkg/id"
	"github.com/rustyeddy/railtrader/position"
	"github.com/rustyeddy/railtrader/replay"
	"github.com/rustyeddy/railtrader/risk"
	"github.com/rustyeddy/railtrader/slippage"
	"github.com/rustyeddy/railtrader/strategy"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// stack is one fully wired run.
type stack struct {
	cfg         *config.Config
	configHash  string
	dataVersion string
	instance    string

	feed      *replay.Feed
	script    *strategy.Script
	loop      *engine.Loop
	positions *position.Tracker
	risk      *risk.Runtime
	journal   journal.Journal
	csv       *journal.CSV
	sqlite    *journal.SQLite
	recorder  *metrics.Recorder

	eventsPath string
	tradesPath string
}

func buildStack(ctx context.Context, cfg *config.Config, logger log.FieldLogger) (*stack, error) {
	hash, err := cfg.Hash()
	if err != nil {
		return nil, err
	}
	feed, err := replay.Load(cfg.Sources(), logger)
	if err != nil {
		return nil, fmt.Errorf("load ticks: %w", err)
	}
	if feed.Len() == 0 {
		return nil, errors.New("load ticks: no ticks in data files")
	}
	dv, err := replay.DataVersion(feed.Paths()...)
	if err != nil {
		return nil, fmt.Errorf("data version: %w", err)
	}

	s := &stack{
		cfg:         cfg,
		configHash:  hash,
		dataVersion: dv,
		instance:    id.EngineInstance(),
		feed:        feed,
		positions:   position.NewTracker(),
		recorder:    metrics.New(),
	}
	logger = logger.WithFields(log.Fields{"run_id": cfg.Run.RunID, "engine_instance": s.instance})

	if err := s.openJournal(); err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			s.journal.Close()
		}
	}()

	events := journal.NewSequencer(s.journal, cfg.Run.SourceAdapter)
	if s.csv != nil {
		events.ResumeAfter(s.csv.LastSequence())
	}
	if s.sqlite != nil {
		last, err := s.sqlite.LastSequence()
		if err != nil {
			return nil, fmt.Errorf("journal sequence: %w", err)
		}
		events.ResumeAfter(last)
	}

	calendar, updates, err := loadNews(ctx, cfg.News, logger)
	if err != nil {
		return nil, err
	}
	s.risk, err = risk.New(risk.Options{
		Config:         cfg.Risk,
		ConfigHash:     hash,
		News:           calendar,
		StartingEquity: cfg.Run.StartingEquity,
		OnTelemetry:    s.recorder.OnTelemetry,
		OnGate:         s.recorder.OnGate,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	adapter, err := buildAdapter(ctx, cfg, feed.Book(), logger)
	if err != nil {
		return nil, err
	}
	slip, err := slippage.New(cfg.Slippage)
	if err != nil {
		return nil, err
	}

	cacheOpts := dispatch.CacheOptions{
		TTL:            cfg.Idempotency.TTL.Std(),
		OrderCapacity:  cfg.Idempotency.OrderCapacity,
		CancelCapacity: cfg.Idempotency.CancelCapacity,
		OnMetrics:      s.recorder.OnCache,
		Logger:         logger,
	}
	if cfg.Idempotency.Path != "" {
		cacheOpts.Store = dispatch.NewFileStore(cfg.Idempotency.Path)
	}
	cache, err := dispatch.NewCache(cacheOpts, feed.Start())
	if err != nil {
		return nil, err
	}

	d, err := dispatch.New(dispatch.Options{
		Adapter:           adapter,
		Positions:         s.positions,
		Events:            events,
		Cache:             cache,
		Slippage:          slip,
		Quoter:            feed.Book(),
		KillSwitch:        cfg.Run.KillSwitch,
		MaxUnitsPerSymbol: cfg.Run.MaxUnitsPerSymbol,
		DefaultMaxUnits:   cfg.Run.DefaultMaxUnits,
		OnAccepted:        s.recorder.OnOrder,
		OnRejected:        s.recorder.OnOrder,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	s.script, err = strategy.NewScript(strategy.ScriptOptions{
		Start:       feed.Start(),
		Instruments: cfg.Run.Instruments,
		Units:       cfg.Strategy.Units,
		Hold:        cfg.Strategy.Hold.Std(),
	})
	if err != nil {
		return nil, err
	}

	set, err := bars.NewSet(cfg.Run.Instruments, cfg.Run.Intervals)
	if err != nil {
		return nil, err
	}
	var store bars.Store = bars.NewMemoryStore()
	if cfg.Run.SnapshotDir != "" {
		store = bars.NewFileStore(cfg.Run.SnapshotDir, s.instance)
	}

	s.loop, err = engine.New(engine.Options{
		RunID:       cfg.Run.RunID,
		ConfigHash:  hash,
		DataVersion: dv,
		Bars:        set,
		Store:       store,
		Risk:        s.risk,
		Positions:   s.positions,
		Dispatch:    d,
		Events:      events,
		Journal:     s.journal,
		Strategy:    s.script,
		News:        updates,
		OnBar:       s.recorder.OnBar,
		OnDecision:  s.recorder.OnDecision,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return s, nil
}

// openJournal lays CSV journals out as <dir>/<run_id>/{events,trades}.csv.
func (s *stack) openJournal() error {
	jc := s.cfg.Journal
	var js []journal.Journal
	if jc.Type == "csv" || jc.Type == "both" {
		dir := filepath.Join(jc.Dir, s.cfg.Run.RunID)
		s.eventsPath = filepath.Join(dir, "events.csv")
		s.tradesPath = filepath.Join(dir, "trades.csv")
		c, err := journal.NewCSV(s.eventsPath, s.tradesPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		s.csv = c
		js = append(js, c)
	}
	if jc.Type == "sqlite" || jc.Type == "both" {
		db, err := journal.NewSQLite(jc.DBPath, s.cfg.Run.RunID)
		if err != nil {
			for _, j := range js {
				j.Close()
			}
			return fmt.Errorf("create journal: %w", err)
		}
		s.sqlite = db
		js = append(js, db)
	}
	s.journal = journal.Tee(js...)
	return nil
}

// loadNews returns the starting calendar and, when watching, the reload
// channel. A URL source is fetched once and merged with the file and with
// every reload of it.
func loadNews(ctx context.Context, nc config.NewsConfig, logger log.FieldLogger) ([]news.Event, <-chan []news.Event, error) {
	var events, fetched []news.Event
	if nc.Path != "" {
		ev, err := news.LoadFile(nc.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("news: %w", err)
		}
		events = append(events, ev...)
	}
	if nc.URL != "" {
		src := news.NewHTTPSource(nc.URL, nc.Timeout.Std())
		src.Logger = logger
		var err error
		fetched, err = src.Fetch(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("news: %w", err)
		}
		events = news.Combine(events, fetched)
	}
	if !nc.Watch {
		return events, nil, nil
	}
	ch, err := news.Watch(ctx, nc.Path, logger)
	if err != nil {
		return nil, nil, err
	}
	if len(fetched) > 0 {
		ch = news.Merge(ctx, ch, fetched)
	}
	return events, ch, nil
}

func buildAdapter(ctx context.Context, cfg *config.Config, book *sim.TickBook, logger log.FieldLogger) (broker.Adapter, error) {
	if cfg.Run.SourceAdapter != "sim" {
		return nil, fmt.Errorf("run.source_adapter %q: only sim is available", cfg.Run.SourceAdapter)
	}
	var a broker.Adapter = sim.NewAdapter(book)
	a = broker.WithRetry(a, broker.RetryPolicy{
		Attempts: cfg.Adapter.RetryAttempts,
		Backoff:  cfg.Adapter.RetryBackoff.Std(),
		Logger:   logger,
	})
	if cfg.Adapter.RatePerSecond > 0 {
		burst := cfg.Adapter.Burst
		if burst <= 0 {
			burst = 1
		}
		a = broker.WithRateLimit(a, rate.NewLimiter(rate.Limit(cfg.Adapter.RatePerSecond), burst))
	}
	if err := broker.Connect(ctx, a); err != nil {
		return nil, fmt.Errorf("connect adapter: %w", err)
	}
	return a, nil
}

func (s *stack) Close() error {
	return s.journal.Close()
}
