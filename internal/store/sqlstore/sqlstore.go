// Package sqlstore implements store.Store on gorm, against PostgreSQL in
// production or SQLite for single-node deployments and tests.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/themis-legal/themis/internal/platform"
	"github.com/themis-legal/themis/internal/store"
	"github.com/themis-legal/themis/pkg/models"
)

// Config selects and tunes the database.
type Config struct {
	Driver   string // "postgres" or "sqlite"
	DSN      string
	MaxConns int
	LogLevel string // silent, error, warn, info
}

// Store is the gorm-backed store.Store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open connects, retrying while the database comes up, and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gcfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logLevel(cfg.LogLevel)),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var db *gorm.DB
	err := platform.Connect(ctx, cfg.Driver, func(ctx context.Context) error {
		var err error
		db, err = gorm.Open(dialector, gcfg)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
		sqlDB.SetMaxIdleConns(max(cfg.MaxConns/2, 1))
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	log.Info().Str("driver", cfg.Driver).Msg("SQL store ready")
	return s, nil
}

func logLevel(level string) logger.LogLevel {
	switch level {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&agentRow{},
		&conversationRow{},
		&messageRow{},
		&executionRow{},
		&clientRow{},
		&caseRow{},
		&taskRow{},
		&movementRow{},
		&documentRow{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, entity, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFound(entity, key)
	}
	return err
}

// ── Agent Store ─────────────────────────────────────────────

func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var rows []agentRow
	if err := s.db.WithContext(ctx).Order("slug").Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows[models.Agent](rows), nil
}

func (s *Store) GetAgentBySlug(ctx context.Context, slug string) (*models.Agent, error) {
	var row agentRow
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&row).Error; err != nil {
		return nil, notFound(err, "agent", slug)
	}
	a := row.model()
	return &a, nil
}

func (s *Store) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing agentRow
		err := tx.Where("slug = ?", agent.Slug).First(&existing).Error
		switch {
		case err == nil:
			agent.ID = existing.ID
			agent.CreatedAt = existing.CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			if agent.ID == "" {
				agent.ID = uuid.NewString()
			}
			if agent.CreatedAt.IsZero() {
				agent.CreatedAt = time.Now().UTC()
			}
		default:
			return err
		}
		row := agentRow{
			ID:          agent.ID,
			Slug:        agent.Slug,
			Name:        agent.Name,
			Description: agent.Description,
			Model:       agent.Model,
			Temperature: agent.Config.Temperature,
			MaxTokens:   agent.Config.MaxTokens,
			Active:      agent.Active,
			CreatedAt:   agent.CreatedAt,
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&row).Error
		}
		// Save writes every column, so a false Active sticks.
		return tx.Save(&row).Error
	})
}

// ── Conversation Store ──────────────────────────────────────

func (s *Store) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	now := time.Now().UTC()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	row := conversationRow{
		ID:          conv.ID,
		UserID:      conv.UserID,
		AgentID:     conv.AgentID,
		FolderID:    conv.FolderID,
		Mode:        string(conv.Mode),
		TotalTokens: max(conv.TotalTokens, 0),
		Title:       conv.Title,
		CreatedAt:   conv.CreatedAt,
		UpdatedAt:   conv.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var row conversationRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "conversation", id)
	}
	c := row.model()
	return &c, nil
}

// UpdateConversation never writes total_tokens; that only moves through
// AddConversationTokens.
func (s *Store) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", conv.ID).Updates(map[string]any{
		"agent_id":   conv.AgentID,
		"folder_id":  conv.FolderID,
		"mode":       string(conv.Mode),
		"title":      conv.Title,
		"updated_at": conv.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFound("conversation", conv.ID)
	}
	return nil
}

func (s *Store) AddConversationTokens(ctx context.Context, id string, n int64) error {
	res := s.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", id).Updates(map[string]any{
		"total_tokens": gorm.Expr("total_tokens + ?", max(n, 0)),
		"updated_at":   time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFound("conversation", id)
	}
	return nil
}

func (s *Store) ListConversations(ctx context.Context, userID string, filter store.ListFilter) ([]models.Conversation, int64, error) {
	scoped := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&conversationRow{}).Where("user_id = ?", userID)
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []conversationRow
	q := scoped().Order("updated_at DESC").Offset(max(filter.Offset, 0))
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return mapRows[models.Conversation](rows), total, nil
}

// DeleteConversation removes children explicitly as well, so SQLite
// without foreign-key enforcement behaves like PostgreSQL.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&executionRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&conversationRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFound("conversation", id)
		}
		return nil
	})
}

// ── Message Store ───────────────────────────────────────────

func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&conversationRow{}).Where("id = ?", msg.ConversationID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return models.NewNotFound("conversation", msg.ConversationID)
		}
		return tx.Create(&messageRow{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Role:           string(msg.Role),
			Content:        msg.Content,
			AgentID:        msg.AgentID,
			Citations:      datatypes.NewJSONType(msg.Citations),
			CreatedAt:      msg.CreatedAt,
		}).Error
	})
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var rows []messageRow
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if limit > 0 {
		// Newest first to apply the limit, then flipped back.
		if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
			return nil, err
		}
		slices.Reverse(rows)
	} else if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows[models.Message](rows), nil
}

// ── Execution Store ─────────────────────────────────────────

func (s *Store) CreateExecution(ctx context.Context, exec *models.AgentExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	row := executionFrom(exec)
	return s.db.WithContext(ctx).Create(&row).Error
}

// UpdateExecution only touches rows still running, which makes the
// terminal transition a single conditional write.
func (s *Store) UpdateExecution(ctx context.Context, exec *models.AgentExecution) error {
	row := executionFrom(exec)
	res := s.db.WithContext(ctx).Model(&executionRow{}).
		Where("id = ? AND status = ?", exec.ID, string(models.ExecutionRunning)).
		Select("status", "output", "tool_calls", "tokens_used", "duration_ms", "error_message", "completed_at").
		Updates(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := s.GetExecution(ctx, exec.ID); err != nil {
		return err
	}
	return store.ErrExecutionClosed
}

func (s *Store) GetExecution(ctx context.Context, id string) (*models.AgentExecution, error) {
	var row executionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "execution", id)
	}
	e := row.model()
	return &e, nil
}

func (s *Store) ListExecutions(ctx context.Context, conversationID string) ([]models.AgentExecution, error) {
	var rows []executionRow
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("started_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows[models.AgentExecution](rows), nil
}

// ── Entity Repository ───────────────────────────────────────

// likeEscaper escapes LIKE wildcards in user terms, with '!' as the ESCAPE
// character on both dialects.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// matchAny narrows q to rows where any of cols contains term, case-insensitively.
func matchAny(q *gorm.DB, term string, cols ...string) *gorm.DB {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
	conds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		conds[i] = "LOWER(" + c + ") LIKE ? ESCAPE '!'"
		args[i] = pattern
	}
	return q.Where("("+strings.Join(conds, " OR ")+")", args...)
}

func (s *Store) SearchClients(ctx context.Context, ownerID string, f models.EntityFilter) ([]models.Client, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if f.Search != "" {
		q = matchAny(q, f.Search, "name", "email", "document")
	}
	var rows []clientRow
	if err := q.Order("name").Limit(store.EntityLimit(f.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows[models.Client](rows), nil
}

func (s *Store) GetClient(ctx context.Context, ownerID, id string) (*models.Client, error) {
	var row clientRow
	if err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&row).Error; err != nil {
		return nil, notFound(err, "client", id)
	}
	c := row.model()
	return &c, nil
}

func (s *Store) SearchCases(ctx context.Context, ownerID string, f models.EntityFilter) ([]models.Case, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ClientID != "" {
		q = q.Where("client_id = ?", f.ClientID)
	}
	if f.Search != "" {
		q = matchAny(q, f.Search, "number", "title", "court")
	}
	var rows []caseRow
	if err := q.Order("created_at DESC").Limit(store.EntityLimit(f.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows[models.Case](rows), nil
}

func (s *Store) GetCase(ctx context.Context, ownerID, id string) (*models.Case, error) {
	var row caseRow
	if err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&row).Error; err != nil {
		return nil, notFound(err, "case", id)
	}
	c := row.model()
	return &c, nil
}

func (s *Store) ListTasks(ctx context.Context, assigneeID string, f models.EntityFilter) ([]models.Task, error) {
	q := s.db.WithContext(ctx).Where("assigned_to = ?", assigneeID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.CaseID != "" {
		q = q.Where("case_id = ?", f.CaseID)
	}
	var rows []taskRow
	err := q.Order("CASE WHEN due_date IS NULL THEN 1 ELSE 0 END, due_date ASC").
		Limit(store.EntityLimit(f.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return mapRows[models.Task](rows), nil
}

func (s *Store) ListMovements(ctx context.Context, ownerID, caseID string, limit int) ([]models.Movement, error) {
	if _, err := s.GetCase(ctx, ownerID, caseID); err != nil {
		return nil, err
	}
	var rows []movementRow
	if err := s.db.WithContext(ctx).Where("case_id = ?", caseID).Order("date DESC").Limit(store.EntityLimit(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows[models.Movement](rows), nil
}

func (s *Store) SearchDocuments(ctx context.Context, ownerID string, f models.EntityFilter) ([]models.Document, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if f.CaseID != "" {
		q = q.Where("case_id = ?", f.CaseID)
	}
	if f.Search != "" {
		q = matchAny(q, f.Search, "title", "kind")
	}
	var rows []documentRow
	if err := q.Order("created_at DESC").Limit(store.EntityLimit(f.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapRows[models.Document](rows), nil
}

func (s *Store) GetDocument(ctx context.Context, ownerID, id string) (*models.Document, error) {
	var row documentRow
	if err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&row).Error; err != nil {
		return nil, notFound(err, "document", id)
	}
	d := row.model()
	return &d, nil
}
