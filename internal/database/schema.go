package database

// Schema creates the Provider Persistence tables. It is idempotent.
const Schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email VARCHAR(320) NOT NULL,
	username VARCHAR(255) NOT NULL DEFAULT '',
	avatar_url TEXT,
	plan VARCHAR(32) NOT NULL DEFAULT 'free',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_login TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

CREATE TABLE IF NOT EXISTS provider_connections (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider VARCHAR(32) NOT NULL,
	provider_id VARCHAR(255) NOT NULL,
	username VARCHAR(255),
	access_token TEXT NOT NULL,
	refresh_token TEXT,
	oauth1_token TEXT,
	access_token_secret TEXT,
	token_expires_at TIMESTAMPTZ,
	scopes TEXT[] NOT NULL DEFAULT '{}',
	can_publish_content BOOLEAN NOT NULL DEFAULT FALSE,
	can_access_insights BOOLEAN NOT NULL DEFAULT FALSE,
	can_manage_ads BOOLEAN NOT NULL DEFAULT FALSE,
	profile JSONB NOT NULL DEFAULT '{}',
	analytics_summary JSONB NOT NULL DEFAULT '{}',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, provider, provider_id)
);

CREATE INDEX IF NOT EXISTS idx_provider_connections_account
	ON provider_connections(provider, provider_id);
CREATE INDEX IF NOT EXISTS idx_provider_connections_user_active
	ON provider_connections(user_id, provider) WHERE is_active;
`
