// Package runtime wires the configured services together for the command
// layer: datastore, taxonomy oracle, event bus, metrics and the
// identification engine.
package runtime

import (
	"fmt"
	"time"

	"github.com/tphakala/identree-go/internal/conf"
	"github.com/tphakala/identree-go/internal/datastore"
	"github.com/tphakala/identree-go/internal/errors"
	"github.com/tphakala/identree-go/internal/events"
	"github.com/tphakala/identree-go/internal/ident"
	"github.com/tphakala/identree-go/internal/observability"
	"github.com/tphakala/identree-go/internal/observability/metrics"
	"github.com/tphakala/identree-go/internal/taxonomy"
)

// Context contains runtime metadata that is not user-configurable.
// Injected at application startup; never part of the configuration system.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// NewContext captures the build metadata carried on the settings.
func NewContext(settings *conf.Settings) Context {
	return Context{
		Version:   settings.Version,
		BuildDate: settings.BuildDate,
	}
}

// String renders the version banner shown by the CLI.
func (c Context) String() string {
	if c.Version == "" {
		return "dev"
	}
	if c.BuildDate == "" {
		return c.Version
	}
	return fmt.Sprintf("%s (built %s)", c.Version, c.BuildDate)
}

// Services holds every wired collaborator for one process.
type Services struct {
	Context  Context
	Settings *conf.Settings
	Store    datastore.Interface
	Oracle   *taxonomy.GormOracle
	Engine   *ident.Engine
	Metrics  *observability.Metrics
	Bus      *events.EventBus
	Queue    *ident.RecomputeQueue
}

// Bootstrap opens the datastore and constructs the engine stack from the
// given settings.
func Bootstrap(settings *conf.Settings) (*Services, error) {
	store := datastore.New(settings)
	if store == nil {
		return nil, errors.Newf("no output database enabled in configuration").
			Component("runtime").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return nil, errors.Wrap(err).
			Component("runtime").
			Category(errors.CategoryDatabase).
			Build()
	}

	oracle, err := taxonomy.NewGormOracle(store.Handle(), taxonomy.Config{
		CacheTTL:      time.Duration(settings.Taxonomy.CacheTTLMinutes) * time.Minute,
		SweepInterval: time.Duration(settings.Taxonomy.CacheSweepMin) * time.Minute,
		Debug:         settings.Taxonomy.Debug,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	m, err := observability.NewMetrics()
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err).
			Component("runtime").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if ms, ok := store.(interface {
		SetMetrics(*metrics.DatastoreMetrics)
	}); ok {
		ms.SetMetrics(m.Datastore)
	}

	svc := &Services{
		Context:  NewContext(settings),
		Settings: settings,
		Store:    store,
		Oracle:   oracle,
		Metrics:  m,
	}

	opts := []ident.Option{ident.WithMetrics(m.Engine)}
	if settings.Engine.EventBus.Enabled {
		bus, err := events.Initialize(&events.Config{
			BufferSize: settings.Engine.EventBus.BufferSize,
			Workers:    settings.Engine.EventBus.Workers,
			Enabled:    true,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		svc.Bus = bus
		opts = append(opts, ident.WithEventBus(bus))
	}

	svc.Engine = ident.NewEngine(store, oracle, store, opts...)
	svc.Queue = ident.NewRecomputeQueue(svc.Engine,
		settings.Engine.Workers, settings.Engine.QueueSize)
	if svc.Bus != nil {
		if err := svc.Bus.RegisterConsumer(ident.NewRecomputeConsumer(svc.Queue)); err != nil {
			_ = svc.Close()
			return nil, err
		}
	}

	return svc, nil
}

// Close shuts the stack down in reverse dependency order.
func (s *Services) Close() error {
	var firstErr error
	if s.Queue != nil {
		if err := s.Queue.Shutdown(10 * time.Second); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Bus != nil {
		if err := s.Bus.Shutdown(10 * time.Second); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
