package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DocumentStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for a worker fleet plus API; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	const q = `
		INSERT INTO documents
			(id, file_name, storage_url, declared_mime, status, metadata, retry_count, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()), COALESCE($9, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		doc.ID, doc.FileName, doc.StorageURL, doc.DeclaredMime, doc.Status, meta, doc.RetryCount,
		nullTime(doc.CreatedAt), nullTime(doc.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, file_name, storage_url, declared_mime, status,
		       COALESCE(extracted_text, ''), metadata, COALESCE(content_hash, ''),
		       retry_count, COALESCE(last_error_kind, ''), COALESCE(last_error_message, ''),
		       created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	var (
		d    models.Document
		meta []byte
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.FileName, &d.StorageURL, &d.DeclaredMime, &d.Status,
		&d.Text, &meta, &d.ContentHash,
		&d.RetryCount, &d.LastErrKind, &d.LastErrMsg,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &d, nil
}

func (c *DatabaseClient) ListDocuments(ctx context.Context) ([]models.Document, error) {
	const q = `
		SELECT id, file_name, storage_url, declared_mime, status, retry_count,
		       COALESCE(last_error_kind, ''), COALESCE(last_error_message, ''),
		       created_at, updated_at
		FROM documents
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.FileName, &d.StorageURL, &d.DeclaredMime, &d.Status, &d.RetryCount,
			&d.LastErrKind, &d.LastErrMsg, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TransitionStatus applies the compare-and-set status transition. Zero rows
// affected means the document was not in the expected prior state.
func (c *DatabaseClient) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	const q = `
		UPDATE documents
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	res, err := c.db.ExecContext(ctx, q, id, from, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *DatabaseClient) SaveExtraction(ctx context.Context, id string, text string, metadata map[string]string, contentHash string, retryCount int) (bool, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	const q = `
		UPDATE documents
		SET status = $2, extracted_text = $3, metadata = $4, content_hash = $5,
		    retry_count = $6, last_error_kind = NULL, last_error_message = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = $7
	`
	res, err := c.db.ExecContext(ctx, q, id, models.StatusIndexing, text, meta, contentHash, retryCount, models.StatusProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *DatabaseClient) RecordRetry(ctx context.Context, id string, retryCount int, kind, msg string) (bool, error) {
	const q = `
		UPDATE documents
		SET status = $2, retry_count = $3, last_error_kind = $4, last_error_message = $5,
		    updated_at = now()
		WHERE id = $1 AND status = $6
	`
	res, err := c.db.ExecContext(ctx, q, id, models.StatusPending, retryCount, kind, msg, models.StatusProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *DatabaseClient) MarkFailed(ctx context.Context, id string, retryCount int, kind, msg string) (bool, error) {
	const q = `
		UPDATE documents
		SET status = $2, retry_count = $3, last_error_kind = $4, last_error_message = $5,
		    updated_at = now()
		WHERE id = $1 AND status IN ($6, $7)
	`
	res, err := c.db.ExecContext(ctx, q, id, models.StatusFailed, retryCount, kind, msg,
		models.StatusProcessing, models.StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *DatabaseClient) ResetDocument(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE documents
		SET status = $2, retry_count = 0, extracted_text = NULL, content_hash = NULL,
		    last_error_kind = NULL, last_error_message = NULL, updated_at = now()
		WHERE id = $1 AND status = $3
	`
	res, err := c.db.ExecContext(ctx, q, id, models.StatusPending, models.StatusFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
