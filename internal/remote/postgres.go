// internal/remote/postgres.go
// PostgreSQL implementation of the remote store Client. This backend is
// intended for production use with persistent data storage.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	sverrors "github.com/stylevault/stylevault-go/internal/errors"
	"github.com/stylevault/stylevault-go/internal/model"
)

type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL remote store implementation.
// It establishes a connection pool to the database and initializes the schema.
func NewPostgres(dsn string) (Client, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// Close releases the connection pool.
func (p *postgres) Close() {
	p.db.Close()
}

// initSchema creates all required tables and indexes if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		-- Profiles table: one free-form attribute document per user
		CREATE TABLE IF NOT EXISTS profiles (
		    user_id    TEXT PRIMARY KEY,            -- Owning user
		    data       JSONB NOT NULL,              -- Profile document
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()  -- Last write time
		);

		-- Wardrobe items table: one row per item per user
		CREATE TABLE IF NOT EXISTS wardrobe_items (
		    user_id    TEXT NOT NULL,               -- Owning user
		    item_id    TEXT NOT NULL,               -- Client-generated item identifier
		    data       JSONB NOT NULL,              -- Item document
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),  -- Last write time
		    PRIMARY KEY (user_id, item_id)
		);
		CREATE INDEX IF NOT EXISTS idx_wardrobe_items_user ON wardrobe_items(user_id, item_id);

		-- Chat histories table: the full conversation as a single document
		CREATE TABLE IF NOT EXISTS chat_histories (
		    user_id    TEXT PRIMARY KEY,            -- Owning user
		    messages   JSONB NOT NULL,              -- Ordered message array
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()  -- Last write time
		);

		-- Gallery items table: generated try-on results, remote-only
		CREATE TABLE IF NOT EXISTS gallery_items (
		    gallery_id TEXT PRIMARY KEY,            -- Server-assigned identifier
		    user_id    TEXT NOT NULL,               -- Owning user
		    data       JSONB NOT NULL,              -- Gallery item document
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()  -- Creation time
		);
		CREATE INDEX IF NOT EXISTS idx_gallery_items_user ON gallery_items(user_id, created_at DESC);

		-- Usage counters table: per-user daily metering
		CREATE TABLE IF NOT EXISTS usage_counters (
		    user_id           TEXT PRIMARY KEY,     -- Owning user
		    last_reset        TEXT NOT NULL,        -- YYYY-MM-DD of the counted day
		    wardrobe_analysis INTEGER NOT NULL DEFAULT 0,  -- Analysis calls on that day
		    look_generation   INTEGER NOT NULL DEFAULT 0   -- Generation calls on that day
		);
	`
	_, err := db.Exec(ctx, schema)
	return err
}

// classify maps a driver error onto the failure classes callers branch on.
// Connection-level failures are unavailable, access-control rejections are
// permission errors, everything else surfaces as a data error.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28000", "28P01", "42501": // invalid auth, bad password, insufficient privilege
			return sverrors.Wrap(sverrors.SV_PERMISSION, op, err)
		case "22P02", "23502", "23514": // invalid text rep, not-null, check violation
			return sverrors.Wrap(sverrors.SV_DATA, op, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return sverrors.Wrap(sverrors.SV_UNAVAILABLE, op, err)
	}
	if pgErr != nil {
		return sverrors.Wrap(sverrors.SV_DATA, op, err)
	}
	// Anything that never reached the server: dial failures, closed pool.
	return sverrors.Wrap(sverrors.SV_UNAVAILABLE, op, err)
}

func (p *postgres) GetUserProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	var raw []byte
	err := p.db.QueryRow(ctx,
		`SELECT data FROM profiles WHERE user_id = $1`, userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "get user profile")
	}
	var profile model.UserProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, sverrors.Wrap(sverrors.SV_DATA, "decode user profile", err)
	}
	return profile, nil
}

func (p *postgres) SaveUserProfile(ctx context.Context, userID string, profile model.UserProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return sverrors.Wrap(sverrors.SV_DATA, "encode user profile", err)
	}
	// JSONB || merges top-level fields, matching the additive save contract.
	_, err = p.db.Exec(ctx,
		`INSERT INTO profiles (user_id, data, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET data = profiles.data || excluded.data, updated_at = NOW()`,
		userID, raw,
	)
	return classify(err, "save user profile")
}

func (p *postgres) GetWardrobe(ctx context.Context, userID string) ([]model.WardrobeItem, error) {
	rows, err := p.db.Query(ctx,
		`SELECT data, updated_at FROM wardrobe_items WHERE user_id = $1 ORDER BY item_id`, userID,
	)
	if err != nil {
		return nil, classify(err, "get wardrobe")
	}
	defer rows.Close()

	items := []model.WardrobeItem{}
	for rows.Next() {
		var raw []byte
		var updatedAt time.Time
		if err := rows.Scan(&raw, &updatedAt); err != nil {
			return nil, classify(err, "scan wardrobe item")
		}
		var item model.WardrobeItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, sverrors.Wrap(sverrors.SV_DATA, "decode wardrobe item", err)
		}
		item.UpdatedAt = updatedAt
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate wardrobe")
	}
	return items, nil
}

func (p *postgres) SaveWardrobeItem(ctx context.Context, userID string, item model.WardrobeItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return sverrors.Wrap(sverrors.SV_DATA, "encode wardrobe item", err)
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO wardrobe_items (user_id, item_id, data, updated_at) VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, item_id) DO UPDATE SET data = excluded.data, updated_at = NOW()`,
		userID, item.ID, raw,
	)
	return classify(err, "save wardrobe item")
}

// DeleteWardrobeItem is idempotent: zero rows affected is still a success.
func (p *postgres) DeleteWardrobeItem(ctx context.Context, userID, itemID string) error {
	_, err := p.db.Exec(ctx,
		`DELETE FROM wardrobe_items WHERE user_id = $1 AND item_id = $2`, userID, itemID,
	)
	return classify(err, "delete wardrobe item")
}

func (p *postgres) SyncWardrobeItems(ctx context.Context, userID string, items []model.WardrobeItem) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return classify(err, "begin wardrobe sync")
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return sverrors.Wrap(sverrors.SV_DATA, "encode wardrobe item", err)
		}
		ids = append(ids, item.ID)
		batch.Queue(
			`INSERT INTO wardrobe_items (user_id, item_id, data, updated_at) VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (user_id, item_id) DO UPDATE SET data = excluded.data, updated_at = NOW()`,
			userID, item.ID, raw,
		)
	}
	// Remote items absent from the given set are deleted in the same
	// transaction, so a reader never observes a half-reconciled wardrobe.
	batch.Queue(
		`DELETE FROM wardrobe_items WHERE user_id = $1 AND NOT (item_id = ANY($2))`,
		userID, ids,
	)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return classify(err, "apply wardrobe sync")
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err, "commit wardrobe sync")
	}
	return nil
}

func (p *postgres) GetChatHistory(ctx context.Context, userID string) ([]model.ChatMessage, error) {
	var raw []byte
	err := p.db.QueryRow(ctx,
		`SELECT messages FROM chat_histories WHERE user_id = $1`, userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "get chat history")
	}
	var msgs []model.ChatMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, sverrors.Wrap(sverrors.SV_DATA, "decode chat history", err)
	}
	return msgs, nil
}

func (p *postgres) SaveChatHistory(ctx context.Context, userID string, msgs []model.ChatMessage) error {
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return sverrors.Wrap(sverrors.SV_DATA, "encode chat history", err)
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO chat_histories (user_id, messages, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET messages = excluded.messages, updated_at = NOW()`,
		userID, raw,
	)
	return classify(err, "save chat history")
}

func (p *postgres) SaveGalleryItem(ctx context.Context, userID string, item model.GalleryItem) (*model.GalleryItem, error) {
	item.ID = uuid.NewString()
	item.CreatedAt = time.Now().UTC()
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, sverrors.Wrap(sverrors.SV_DATA, "encode gallery item", err)
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO gallery_items (gallery_id, user_id, data, created_at) VALUES ($1, $2, $3, $4)`,
		item.ID, userID, raw, item.CreatedAt,
	)
	if err != nil {
		return nil, classify(err, "save gallery item")
	}
	return &item, nil
}

func (p *postgres) ListGallery(ctx context.Context, userID string) ([]model.GalleryItem, error) {
	rows, err := p.db.Query(ctx,
		`SELECT data FROM gallery_items WHERE user_id = $1 ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, classify(err, "list gallery")
	}
	defer rows.Close()

	items := []model.GalleryItem{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, classify(err, "scan gallery item")
		}
		var item model.GalleryItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, sverrors.Wrap(sverrors.SV_DATA, "decode gallery item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate gallery")
	}
	return items, nil
}

func (p *postgres) DeleteGalleryItem(ctx context.Context, userID, galleryID string) error {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM gallery_items WHERE user_id = $1 AND gallery_id = $2`, userID, galleryID,
	)
	if err != nil {
		return classify(err, "delete gallery item")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) CheckUsageLimit(ctx context.Context, userID string, limit model.LimitType) (model.UsageStatus, error) {
	var counter model.UsageCounter
	err := p.db.QueryRow(ctx,
		`SELECT last_reset, wardrobe_analysis, look_generation FROM usage_counters WHERE user_id = $1`,
		userID,
	).Scan(&counter.LastReset, &counter.WardrobeAnalysis, &counter.LookGeneration)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.UsageStatus{}, classify(err, "check usage limit")
	}

	count := 0
	if counter.LastReset == model.DayStamp(time.Now()) {
		count = counter.Count(limit)
	}
	remaining := model.DailyLimit - count
	if remaining < 0 {
		remaining = 0
	}
	return model.UsageStatus{
		Allowed:   count < model.DailyLimit,
		Remaining: remaining,
		Limit:     model.DailyLimit,
	}, nil
}

func (p *postgres) IncrementUsage(ctx context.Context, userID string, limit model.LimitType) error {
	column := "wardrobe_analysis"
	if limit == model.LimitLookGeneration {
		column = "look_generation"
	}
	today := model.DayStamp(time.Now())
	// A stale counter is reset and immediately counted as the first call of
	// the new day. The reset is only ever committed here, never by reads.
	query := fmt.Sprintf(
		`INSERT INTO usage_counters (user_id, last_reset, %[1]s) VALUES ($1, $2, 1)
		 ON CONFLICT (user_id) DO UPDATE SET
		     wardrobe_analysis = (CASE WHEN usage_counters.last_reset = $2 THEN usage_counters.wardrobe_analysis ELSE 0 END)
		                         + (CASE WHEN '%[1]s' = 'wardrobe_analysis' THEN 1 ELSE 0 END),
		     look_generation   = (CASE WHEN usage_counters.last_reset = $2 THEN usage_counters.look_generation ELSE 0 END)
		                         + (CASE WHEN '%[1]s' = 'look_generation' THEN 1 ELSE 0 END),
		     last_reset        = $2`,
		column,
	)
	_, err := p.db.Exec(ctx, query, userID, today)
	return classify(err, "increment usage")
}
