// Package database provides database access layers for PostgreSQL and Redis.
// Implements connection management, query operations, and transaction handling
// with automatic retry logic and connection pooling.
//
// PostgreSQL is Provider Persistence: users and their provider connection
// rows, the source of truth for every connection. Redis holds refresh
// tokens, the token blacklist, shared rate limit counters and the
// connection cache.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/ConnectService/internal/metrics"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/pkg/config"
	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// TxFunc is a function that runs within a database transaction.
// Used with WithTransaction to ensure atomic operations.
//
// The function receives a *sql.Tx which should be used for all
// database operations within the transaction. The transaction will
// be automatically committed on success or rolled back on error/panic.
type TxFunc func(tx *sql.Tx) error

// Querier is an interface for executing SQL queries.
// Abstracts *sql.DB and *sql.Tx to allow the same query code to work
// both inside and outside transactions.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresDB wraps a PostgreSQL connection pool and implements the
// connection store used by the OAuth flows.
//
// Features:
//   - Automatic connection retry with exponential backoff
//   - Connection pooling (configurable max connections)
//   - Transaction support with automatic rollback on errors
//   - Query metrics per operation
type PostgresDB struct {
	db *sql.DB
}

// NewPostgresDB creates a new PostgreSQL connection with automatic retry.
// Implements exponential backoff retry logic to handle transient connection
// failures during startup (e.g., database container not ready yet).
//
// Connection pool settings:
//   - MaxOpenConns: From configuration (default: 25)
//   - MaxIdleConns: Half of MaxOpenConns
//   - ConnMaxLifetime: 1 hour
//
// Example:
//
//	db, err := database.NewPostgresDB(ctx, &cfg.Database)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Database connection failed")
//	}
//	defer db.Close()
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*PostgresDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	retryConfig := utils.DatabaseRetryConfig()
	retryConfig.MaxAttempts = 5
	retryConfig.InitialDelay = 100 * time.Millisecond
	retryConfig.MaxDelay = 3 * time.Second

	db, err := utils.RetryWithResult(ctx, retryConfig, func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open("postgres", cfg.DSN())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to open database connection, retrying...")
			return nil, err
		}

		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns / 2)
		db.SetConnMaxLifetime(time.Hour)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()

		if err := db.PingContext(pingCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to ping database, retrying...")
			db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after retries: %w", err)
	}

	log.Info().Msg("Successfully connected to PostgreSQL")

	return &PostgresDB{db: db}, nil
}

// Close closes the database connection and releases all resources.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping checks if the database connection is alive.
// Used by the readiness endpoint.
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// RunMigrations executes the idempotent Schema.
func (p *PostgresDB) RunMigrations(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("Database migrations completed successfully")
	return nil
}

// observe records one query's outcome. sql.ErrNoRows is not a failure.
func observe(op string, start time.Time, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	metrics.RecordDBQuery(op, err, time.Since(start))
}

const userColumns = `id, email, username, avatar_url, plan, created_at, updated_at, last_login`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var (
		user   models.User
		avatar sql.NullString
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&avatar,
		&user.Plan,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	user.AvatarURL = avatar.String
	return &user, nil
}

// GetUser retrieves a user by their UUID.
func (p *PostgresDB) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	start := time.Now()
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(p.db.QueryRowContext(ctx, query, id))
	observe("get_user", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// FindUserByProvider returns the owner of the earliest connection to the
// given provider account.
func (p *PostgresDB) FindUserByProvider(ctx context.Context, provider models.Platform, providerID string) (*models.User, error) {
	start := time.Now()
	query := `
		SELECT u.id, u.email, u.username, u.avatar_url, u.plan, u.created_at, u.updated_at, u.last_login
		FROM provider_connections c
		JOIN users u ON u.id = c.user_id
		WHERE c.provider = $1 AND c.provider_id = $2
		ORDER BY c.created_at ASC
		LIMIT 1
	`

	user, err := scanUser(p.db.QueryRowContext(ctx, query, provider, providerID))
	observe("find_user_by_provider", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider: %w", err)
	}
	return user, nil
}

// CreateUser inserts a user. The ID is generated by the database.
func (p *PostgresDB) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	start := time.Now()
	query := `
		INSERT INTO users (email, username, avatar_url, plan, last_login)
		VALUES ($1, $2, NULLIF($3, ''), $4, NOW())
		RETURNING ` + userColumns

	plan := user.Plan
	if plan == "" {
		plan = models.PlanFree
	}
	created, err := scanUser(p.db.QueryRowContext(ctx, query, user.Email, user.Username, user.AvatarURL, plan))
	observe("create_user", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info().
		Str("user_id", created.ID.String()).
		Str("email", created.Email).
		Msg("User created successfully")

	return created, nil
}

// TouchLogin updates the last login timestamp for a user.
func (p *PostgresDB) TouchLogin(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	query := `
		UPDATE users
		SET last_login = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	_, err := p.db.ExecContext(ctx, query, id)
	observe("touch_login", start, err)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

const connectionColumns = `id, user_id, provider, provider_id, username, access_token, refresh_token,
	oauth1_token, access_token_secret, token_expires_at, scopes,
	can_publish_content, can_access_insights, can_manage_ads,
	profile, analytics_summary, is_active, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*models.Connection, error) {
	var (
		conn                models.Connection
		username, refresh   sql.NullString
		oauth1Token, secret sql.NullString
		scopes              pq.StringArray
	)
	err := row.Scan(
		&conn.ID,
		&conn.UserID,
		&conn.Provider,
		&conn.ProviderID,
		&username,
		&conn.AccessToken,
		&refresh,
		&oauth1Token,
		&secret,
		&conn.TokenExpiresAt,
		&scopes,
		&conn.Capabilities.CanPublishContent,
		&conn.Capabilities.CanAccessInsights,
		&conn.Capabilities.CanManageAds,
		&conn.Profile,
		&conn.AnalyticsSummary,
		&conn.IsActive,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conn.Username = username.String
	conn.RefreshToken = refresh.String
	conn.OAuth1Token = oauth1Token.String
	conn.AccessTokenSecret = secret.String
	conn.Scopes = []string(scopes)
	return &conn, nil
}

// GetConnection retrieves a connection row by ID.
func (p *PostgresDB) GetConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	return getConnectionQ(ctx, p.db, id)
}

func getConnectionQ(ctx context.Context, q Querier, id uuid.UUID) (*models.Connection, error) {
	start := time.Now()
	query := `SELECT ` + connectionColumns + ` FROM provider_connections WHERE id = $1`

	conn, err := scanConnection(q.QueryRowContext(ctx, query, id))
	observe("get_connection", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// GetActiveConnection returns the user's most recently updated active
// connection to provider.
func (p *PostgresDB) GetActiveConnection(ctx context.Context, userID uuid.UUID, provider models.Platform) (*models.Connection, error) {
	start := time.Now()
	query := `
		SELECT ` + connectionColumns + `
		FROM provider_connections
		WHERE user_id = $1 AND provider = $2 AND is_active
		ORDER BY updated_at DESC
		LIMIT 1
	`

	conn, err := scanConnection(p.db.QueryRowContext(ctx, query, userID, provider))
	observe("get_active_connection", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active connection: %w", err)
	}
	return conn, nil
}

// ListConnections returns the user's active connections ordered by provider.
func (p *PostgresDB) ListConnections(ctx context.Context, userID uuid.UUID) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM provider_connections
		WHERE user_id = $1 AND is_active
		ORDER BY provider, updated_at DESC
	`
	return p.queryConnections(ctx, "list_connections", query, userID)
}

// ActiveConnections returns every active row of the user for provider,
// newest first.
func (p *PostgresDB) ActiveConnections(ctx context.Context, userID uuid.UUID, provider models.Platform) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM provider_connections
		WHERE user_id = $1 AND provider = $2 AND is_active
		ORDER BY updated_at DESC
	`
	return p.queryConnections(ctx, "active_connections", query, userID, provider)
}

func (p *PostgresDB) queryConnections(ctx context.Context, op, query string, args ...any) ([]*models.Connection, error) {
	start := time.Now()
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		observe(op, start, err)
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var out []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			observe(op, start, err)
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, conn)
	}
	err = rows.Err()
	observe(op, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	return out, nil
}

// UpsertConnection inserts or updates the row keyed by
// (user_id, provider, provider_id). An empty secret in conn keeps any
// OAuth1.0a credentials already attached to the row.
func (p *PostgresDB) UpsertConnection(ctx context.Context, conn *models.Connection) (*models.Connection, error) {
	start := time.Now()
	query := `
		INSERT INTO provider_connections (
			user_id, provider, provider_id, username, access_token, refresh_token,
			oauth1_token, access_token_secret, token_expires_at, scopes,
			can_publish_content, can_access_insights, can_manage_ads,
			profile, analytics_summary, is_active
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12, $13, COALESCE($14, '{}'::jsonb), COALESCE($15, '{}'::jsonb), $16)
		ON CONFLICT (user_id, provider, provider_id)
		DO UPDATE SET
			username = EXCLUDED.username,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			oauth1_token = COALESCE(EXCLUDED.oauth1_token, provider_connections.oauth1_token),
			access_token_secret = COALESCE(EXCLUDED.access_token_secret, provider_connections.access_token_secret),
			token_expires_at = EXCLUDED.token_expires_at,
			scopes = EXCLUDED.scopes,
			can_publish_content = EXCLUDED.can_publish_content,
			can_access_insights = EXCLUDED.can_access_insights,
			can_manage_ads = EXCLUDED.can_manage_ads,
			profile = EXCLUDED.profile,
			analytics_summary = EXCLUDED.analytics_summary,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING ` + connectionColumns

	row := p.db.QueryRowContext(ctx, query,
		conn.UserID,
		conn.Provider,
		conn.ProviderID,
		conn.Username,
		conn.AccessToken,
		conn.RefreshToken,
		conn.OAuth1Token,
		conn.AccessTokenSecret,
		conn.TokenExpiresAt,
		pq.Array(conn.Scopes),
		conn.Capabilities.CanPublishContent,
		conn.Capabilities.CanAccessInsights,
		conn.Capabilities.CanManageAds,
		conn.Profile,
		conn.AnalyticsSummary,
		conn.IsActive,
	)
	saved, err := scanConnection(row)
	observe("upsert_connection", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert connection: %w", err)
	}

	log.Info().
		Str("connection_id", saved.ID.String()).
		Str("user_id", saved.UserID.String()).
		Str("provider", string(saved.Provider)).
		Msg("Connection saved")

	return saved, nil
}

// PatchConnectionSecret attaches OAuth1.0a credentials to an existing row
// and touches nothing else but updated_at.
func (p *PostgresDB) PatchConnectionSecret(ctx context.Context, id uuid.UUID, token, secret string) (*models.Connection, error) {
	start := time.Now()
	query := `
		UPDATE provider_connections
		SET oauth1_token = $2, access_token_secret = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + connectionColumns

	conn, err := scanConnection(p.db.QueryRowContext(ctx, query, id, token, secret))
	observe("patch_connection_secret", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to patch connection secret: %w", err)
	}
	return conn, nil
}

// UpdateConnectionTokens stores refreshed OAuth2 tokens. An empty refresh
// token keeps the stored one since not every provider rotates it.
func (p *PostgresDB) UpdateConnectionTokens(ctx context.Context, id uuid.UUID, update models.TokenUpdate) (*models.Connection, error) {
	var out *models.Connection
	err := p.WithTransaction(ctx, func(tx *sql.Tx) error {
		start := time.Now()
		query := `
			UPDATE provider_connections
			SET access_token = $2,
				refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
				token_expires_at = $4,
				updated_at = NOW()
			WHERE id = $1
		`
		res, err := tx.ExecContext(ctx, query, id, update.AccessToken, update.RefreshToken, update.TokenExpiresAt)
		observe("update_connection_tokens", start, err)
		if err != nil {
			return fmt.Errorf("failed to update connection tokens: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNotFound
		}
		out, err = getConnectionQ(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteConnection removes a connection row.
func (p *PostgresDB) DeleteConnection(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	res, err := p.db.ExecContext(ctx, `DELETE FROM provider_connections WHERE id = $1`, id)
	observe("delete_connection", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// WithTransaction executes a function within a database transaction.
// Automatically handles commit on success and rollback on error or panic.
//
// Example:
//
//	err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
//	    if _, err := tx.ExecContext(ctx, "UPDATE ..."); err != nil {
//	        return err // Automatic rollback
//	    }
//	    return nil // Automatic commit
//	})
func (p *PostgresDB) WithTransaction(ctx context.Context, fn TxFunc) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
