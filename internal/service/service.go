package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"presenceboard/internal/cache"
	"presenceboard/internal/config"
	"presenceboard/internal/metrics"
	"presenceboard/internal/models"
	"presenceboard/internal/nats"
	"presenceboard/internal/sqlite"
	"presenceboard/internal/store"
)

// PresenceService implements the core business logic: authentication,
// device registration, and status aggregation over the cached user
// snapshot and the store adapter.
type PresenceService struct {
	store    store.Store
	users    *cache.UserCache
	verdicts cache.VerdictCache
	logger   *slog.Logger

	loc        *time.Location
	statusDesc string
}

// Options tunes service behavior beyond its dependencies
type Options struct {
	// TimeZone used when formatting timestamps for viewers
	TimeZone string
	// StatusDesc is the human-readable description attached to every payload
	StatusDesc string
}

// NewPresenceService creates a new presence service
func NewPresenceService(st store.Store, users *cache.UserCache, verdicts cache.VerdictCache, logger *slog.Logger, opts Options) *PresenceService {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(opts.TimeZone)
	if err != nil || opts.TimeZone == "" {
		loc = time.UTC
	}
	desc := opts.StatusDesc
	if desc == "" {
		desc = "live status"
	}
	return &PresenceService{
		store:      st,
		users:      users,
		verdicts:   verdicts,
		logger:     logger,
		loc:        loc,
		statusDesc: desc,
	}
}

// Ready checks whether the store is reachable
func (s *PresenceService) Ready(ctx context.Context) error {
	_, err := s.store.FindAllUsers(ctx)
	return err
}

// UserCache exposes the snapshot cache to observers (read-only use)
func (s *PresenceService) UserCache() *cache.UserCache { return s.users }

// Close closes the service and its dependencies
func (s *PresenceService) Close() error {
	s.verdicts.Clear()
	s.users.Invalidate()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// cachedUsers reads the user snapshot, tolerating a failed refresh as
// long as a previous snapshot exists. Stale-but-present beats failing
// the request outright; staleness is bounded by one TTL window.
func (s *PresenceService) cachedUsers(ctx context.Context) ([]models.UserRecord, error) {
	users, err := s.users.GetUsers(ctx)
	if err != nil {
		if len(users) == 0 {
			return nil, err
		}
		s.logger.Warn("serving stale user snapshot", "error", err, "records", len(users))
	}
	return users, nil
}

// ServiceBuilder helps build a complete presence service
type ServiceBuilder struct {
	config *config.Config
	logger *slog.Logger
}

// NewServiceBuilder creates a new service builder
func NewServiceBuilder(cfg *config.Config, logger *slog.Logger) *ServiceBuilder {
	return &ServiceBuilder{config: cfg, logger: logger}
}

// Build builds and configures all service components
func (b *ServiceBuilder) Build() (*PresenceService, error) {
	st, err := b.buildStore()
	if err != nil {
		return nil, err
	}

	snapshotTTL, err := b.config.Cache.GetSnapshotTTL()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("invalid cache TTL: %w", err)
	}
	users := cache.NewUserCache(meteredLoader{st}, snapshotTTL)

	verdictTTL, err := b.config.Cache.GetVerdictTTL()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("invalid verdict TTL: %w", err)
	}
	verdicts, err := cache.NewVerdictCache(cache.RistrettoConfig{
		MaxCost:     b.config.Cache.MaxCost,
		NumCounters: b.config.Cache.NumCounters,
		BufferItems: b.config.Cache.BufferItems,
		TTL:         verdictTTL,
		Metrics:     b.config.Cache.Metrics,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create verdict cache: %w", err)
	}

	svc := NewPresenceService(st, users, verdicts, b.logger, Options{
		TimeZone:   b.config.Status.TimeZone,
		StatusDesc: b.config.Status.Description,
	})
	return svc, nil
}

// meteredLoader reports snapshot reload outcomes and sizes
type meteredLoader struct {
	st store.Store
}

func (m meteredLoader) FindAllUsers(ctx context.Context) ([]models.UserRecord, error) {
	users, err := m.st.FindAllUsers(ctx)
	metrics.ObserveCacheRefresh(err == nil, len(users))
	return users, err
}

// buildStore selects the store backend from config
func (b *ServiceBuilder) buildStore() (store.Store, error) {
	switch b.config.Store.Backend {
	case "sqlite":
		st, err := sqlite.NewStore(sqlite.Config{
			Path:        b.config.SQLite.Path,
			BusyTimeout: b.config.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite store: %w", err)
		}
		return st, nil
	case "nats", "":
		st, err := nats.NewStore(nats.Config{
			ServerURL:     b.config.NATS.ServerURL,
			UsersBucket:   b.config.NATS.UsersBucket,
			DevicesBucket: b.config.NATS.DevicesBucket,
			Embedded:      b.config.NATS.Embedded,
			DataDir:       b.config.NATS.DataDir,
			StartTimeout:  b.config.NATS.StartTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS KV store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", b.config.Store.Backend)
	}
}
