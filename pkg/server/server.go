// Package server provides the public entry point for assembling the Themis
// service from configuration.
//
// Usage:
//
//	cfg, _ := config.Load("")
//	srv, err := server.New(ctx, cfg)
//	defer srv.Close(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/themis-legal/themis/internal/agents"
	"github.com/themis-legal/themis/internal/api"
	"github.com/themis-legal/themis/internal/api/handlers"
	"github.com/themis-legal/themis/internal/cache"
	"github.com/themis-legal/themis/internal/config"
	"github.com/themis-legal/themis/internal/embeddings"
	"github.com/themis-legal/themis/internal/engine"
	"github.com/themis-legal/themis/internal/knowledge"
	"github.com/themis-legal/themis/internal/llm"
	"github.com/themis-legal/themis/internal/orchestrator"
	"github.com/themis-legal/themis/internal/rag"
	"github.com/themis-legal/themis/internal/store"
	"github.com/themis-legal/themis/internal/store/sqlstore"
	"github.com/themis-legal/themis/internal/telemetry"
	"github.com/themis-legal/themis/internal/tools"
)

// Server holds the initialized service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Config       *config.Config
	Store        store.Store
	Knowledge    knowledge.Repository
	Embeddings   *embeddings.Service
	RAG          *rag.Service
	Orchestrator *orchestrator.Orchestrator

	closers []func(context.Context) error
}

// Options override collaborators, mostly for tests and the CLI.
type Options struct {
	// Provider replaces the HTTP LLM client.
	Provider llm.Provider
	// SkipTelemetry leaves the global tracer provider untouched.
	SkipTelemetry bool
}

// New builds every component in dependency order: telemetry, store, cache,
// knowledge base, LLM client, embeddings, retrieval, agents, orchestrator
// and the HTTP router. Agents are seeded into the store on every start.
func New(ctx context.Context, cfg *config.Config, opts ...Options) (_ *Server, err error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	s := &Server{Config: cfg}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	if !o.SkipTelemetry {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Server.Version)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		s.closers = append(s.closers, shutdown)
	}

	if s.Store, err = openStore(ctx, cfg.Database); err != nil {
		return nil, err
	}
	st := s.Store
	s.closers = append(s.closers, func(context.Context) error { return st.Close() })

	c, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	switch c := c.(type) {
	case *cache.Redis:
		s.closers = append(s.closers, func(context.Context) error { return c.Close() })
	case *cache.Memory:
		s.closers = append(s.closers, func(context.Context) error { c.Close(); return nil })
	}

	if s.Knowledge, err = openKnowledge(ctx, cfg.Knowledge); err != nil {
		return nil, err
	}
	if pg, ok := s.Knowledge.(*knowledge.PgvectorRepository); ok {
		s.closers = append(s.closers, func(context.Context) error { pg.Close(); return nil })
	}

	provider := o.Provider
	if provider == nil {
		provider = llm.NewClient(llm.Config{
			BaseURL:        cfg.LLM.BaseURL,
			APIKey:         cfg.LLM.APIKey,
			ChatModel:      cfg.LLM.ChatModel,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
			Timeout:        cfg.LLM.Timeout,
			MaxRetries:     cfg.LLM.MaxRetries,
		})
	}

	s.Embeddings = embeddings.NewService(provider, s.Knowledge, c)
	s.RAG = rag.NewService(s.Embeddings, s.Knowledge, c)

	if err := agents.SeedStore(ctx, s.Store, cfg.LLM.ChatModel); err != nil {
		return nil, fmt.Errorf("seed agents: %w", err)
	}

	profiles := agents.Profiles(agents.ToolDeps{
		Retriever: s.RAG,
		Entities:  s.Store,
		Holidays:  tools.NationalHolidays{},
	})
	built, err := agents.Build(profiles, engine.Deps{
		Agents:     s.Store,
		Executions: s.Store,
		Entities:   s.Store,
		LLM:        provider,
		Retriever:  s.RAG,
	})
	if err != nil {
		return nil, fmt.Errorf("build agents: %w", err)
	}
	runners := make(map[string]orchestrator.Runner, len(built))
	for slug, a := range built {
		runners[slug] = a
	}

	if s.Orchestrator, err = orchestrator.New(s.Store, runners); err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	h := handlers.New(s.Orchestrator, s.Embeddings, s.RAG)
	s.Handler = api.NewRouter(h, api.Options{
		Version:    cfg.Server.Version,
		UserHeader: cfg.Auth.UserHeader,
		APIKeys:    cfg.Auth.APIKeys,
		Health:     s.Store.Ping,
	})

	log.Info().
		Str("store", cfg.Database.Driver).
		Str("cache", cfg.Cache.Backend).
		Str("knowledge", s.Knowledge.Kind()).
		Int("agents", len(built)).
		Msg("Themis initialized")
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		var opts []store.MemoryOption
		if cfg.SnapshotPath != "" {
			opts = append(opts, store.WithSnapshot(cfg.SnapshotPath))
		}
		log.Info().Msg("In-memory store initialized")
		return store.NewMemoryStore(opts...), nil
	}
	s, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:   cfg.Driver,
		DSN:      cfg.URL,
		MaxConns: cfg.MaxConnections,
		LogLevel: cfg.LogLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	if cfg.Backend == "redis" {
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		return r, nil
	}
	m, err := cache.NewMemory(cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return m, nil
}

func openKnowledge(ctx context.Context, cfg config.KnowledgeConfig) (knowledge.Repository, error) {
	if cfg.Backend == "pgvector" {
		r, err := knowledge.NewPgvectorRepository(ctx, cfg.URL, cfg.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("open knowledge base: %w", err)
		}
		return r, nil
	}
	var opts []knowledge.MemoryOption
	if cfg.MaxEntries > 0 {
		opts = append(opts, knowledge.WithMaxEntries(cfg.MaxEntries))
	}
	return knowledge.NewMemoryRepository(opts...), nil
}
