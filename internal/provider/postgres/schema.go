// Package postgres implements the durable Postgres store for articles,
// authors, and archived runs.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS articles (
    article_id   TEXT PRIMARY KEY,
    url          TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    source_id    TEXT NOT NULL,
    source_name  TEXT NOT NULL DEFAULT '',
    category     TEXT NOT NULL DEFAULT '',
    author       TEXT NOT NULL DEFAULT '',
    summary      TEXT NOT NULL DEFAULT '',
    content      TEXT NOT NULL DEFAULT '',
    categories   TEXT[] NOT NULL DEFAULT '{}',
    published_at TIMESTAMPTZ,
    run_id       TEXT NOT NULL,
    stored_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_articles_source_published ON articles (source_id, published_at DESC);
CREATE INDEX IF NOT EXISTS idx_articles_run ON articles (run_id);

CREATE TABLE IF NOT EXISTS authors (
    author_id      TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    feed_url       TEXT NOT NULL,
    website_url    TEXT NOT NULL DEFAULT '',
    description    TEXT NOT NULL DEFAULT '',
    categories     TEXT[] NOT NULL DEFAULT '{}',
    article_count  INTEGER NOT NULL DEFAULT 0,
    last_published TIMESTAMPTZ NOT NULL,
    last_fetched   TIMESTAMPTZ NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS runs_archive (
    run_id          TEXT PRIMARY KEY,
    trigger         TEXT NOT NULL,
    status          TEXT NOT NULL,
    version         INTEGER NOT NULL,
    stats           JSONB NOT NULL,
    errors          JSONB NOT NULL,
    errors_omitted  INTEGER NOT NULL DEFAULT 0,
    config          JSONB NOT NULL,
    started_at      TIMESTAMPTZ NOT NULL,
    last_updated_at TIMESTAMPTZ NOT NULL,
    completed_at    TIMESTAMPTZ,
    archived_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_runs_archive_started ON runs_archive (started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_archive_status ON runs_archive (status);
`
