package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/apperr"
	"github.com/acm-research/backend/internal/storage/models"
	"github.com/acm-research/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		original_query TEXT NOT NULL,
		refined_query TEXT,
		sources TEXT NOT NULL,
		llms TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		intent TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_queries_user ON queries(user_id);
	CREATE INDEX IF NOT EXISTS idx_queries_status ON queries(status);
	CREATE INDEX IF NOT EXISTS idx_queries_created ON queries(created_at);

	CREATE TABLE IF NOT EXISTS responses (
		id TEXT PRIMARY KEY,
		query_id TEXT NOT NULL,
		source TEXT,
		model TEXT,
		summary TEXT,
		full_content TEXT,
		relevance_score REAL,
		citation_count INTEGER,
		result_count INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES queries(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_responses_query ON responses(query_id);

	CREATE TABLE IF NOT EXISTS research_digests (
		id TEXT PRIMARY KEY,
		digest_date TEXT NOT NULL,
		sources TEXT NOT NULL,
		total_articles INTEGER NOT NULL,
		top_topics TEXT NOT NULL,
		key_findings TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_digests_date ON research_digests(digest_date);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertQuery(q *models.Query) error {
	sourcesJSON, _ := json.Marshal(q.Sources)
	llmsJSON, _ := json.Marshal(q.LLMs)

	query := `
		INSERT INTO queries (id, user_id, original_query, sources, llms, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		q.ID,
		q.UserID,
		q.OriginalQuery,
		string(sourcesJSON),
		string(llmsJSON),
		models.StatusPending,
		q.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("%w: failed to insert query: %v", apperr.ErrPersistence, err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", q.ID),
		zap.String("user_id", q.UserID),
	)

	return nil
}

// MarkProcessing moves a query from PENDING to PROCESSING and stamps its
// start time. The status guard keeps the transition forward-only.
func (c *Client) MarkProcessing(queryID string, startedAt time.Time) error {
	query := `UPDATE queries SET status = ?, started_at = ? WHERE id = ? AND status = ?`

	res, err := c.db.Exec(query, models.StatusProcessing, startedAt.Unix(), queryID, models.StatusPending)
	if err != nil {
		return fmt.Errorf("%w: failed to mark processing: %v", apperr.ErrPersistence, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: query %s is not pending", apperr.ErrPersistence, queryID)
	}

	return nil
}

func (c *Client) SetRefinement(queryID, refinedQuery, intentJSON string) error {
	query := `UPDATE queries SET refined_query = ?, intent = ? WHERE id = ?`

	_, err := c.db.Exec(query, refinedQuery, intentJSON, queryID)
	if err != nil {
		return fmt.Errorf("%w: failed to set refinement: %v", apperr.ErrPersistence, err)
	}

	return nil
}

// CompleteQuery marks a processing query COMPLETED. A query already in a
// terminal state is left untouched, which makes the call idempotent.
func (c *Client) CompleteQuery(queryID string, completedAt time.Time) error {
	return c.finishQuery(queryID, models.StatusCompleted, "", completedAt)
}

func (c *Client) FailQuery(queryID, errMsg string, completedAt time.Time) error {
	return c.finishQuery(queryID, models.StatusFailed, errMsg, completedAt)
}

// finishQuery writes a terminal status. PENDING rows are eligible too, so a
// query whose PROCESSING transition never landed can still be resolved.
func (c *Client) finishQuery(queryID, status, errMsg string, completedAt time.Time) error {
	query := `UPDATE queries SET status = ?, error = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)`

	_, err := c.db.Exec(query, status, errMsg, completedAt.Unix(), queryID, models.StatusPending, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("%w: failed to finish query: %v", apperr.ErrPersistence, err)
	}

	return nil
}

func (c *Client) InsertResponse(r *models.Response) error {
	query := `
		INSERT INTO responses (id, query_id, source, model, summary, full_content,
			relevance_score, citation_count, result_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		r.ID,
		r.QueryID,
		r.Source,
		r.Model,
		r.Summary,
		r.FullContent,
		r.RelevanceScore,
		r.CitationCount,
		r.ResultCount,
		r.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("%w: failed to insert response: %v", apperr.ErrPersistence, err)
	}

	return nil
}

func (c *Client) GetQuery(queryID string) (*models.Query, error) {
	query := `
		SELECT id, user_id, original_query, refined_query, sources, llms, status,
			intent, error, created_at, started_at, completed_at
		FROM queries WHERE id = ?
	`

	var q models.Query
	var refinedQuery, intent, errMsg sql.NullString
	var sourcesJSON, llmsJSON string
	var createdAt int64
	var startedAt, completedAt sql.NullInt64

	err := c.db.QueryRow(query, queryID).Scan(
		&q.ID,
		&q.UserID,
		&q.OriginalQuery,
		&refinedQuery,
		&sourcesJSON,
		&llmsJSON,
		&q.Status,
		&intent,
		&errMsg,
		&createdAt,
		&startedAt,
		&completedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: query %s", apperr.ErrNotFound, queryID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get query: %v", apperr.ErrPersistence, err)
	}

	q.RefinedQuery = refinedQuery.String
	q.Intent = intent.String
	q.Error = errMsg.String
	json.Unmarshal([]byte(sourcesJSON), &q.Sources)
	json.Unmarshal([]byte(llmsJSON), &q.LLMs)
	q.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		q.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		q.CompletedAt = &t
	}

	return &q, nil
}

func (c *Client) GetResponses(queryID string) ([]models.Response, error) {
	query := `
		SELECT id, query_id, source, model, summary, full_content,
			relevance_score, citation_count, result_count, created_at
		FROM responses WHERE query_id = ? ORDER BY created_at ASC
	`

	rows, err := c.db.Query(query, queryID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get responses: %v", apperr.ErrPersistence, err)
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		var source, model, summary, fullContent sql.NullString
		var relevance sql.NullFloat64
		var citations sql.NullInt64
		var createdAt int64

		err := rows.Scan(&r.ID, &r.QueryID, &source, &model, &summary, &fullContent,
			&relevance, &citations, &r.ResultCount, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %v", apperr.ErrPersistence, err)
		}

		r.Source = source.String
		r.Model = model.String
		r.Summary = summary.String
		r.FullContent = fullContent.String
		if relevance.Valid {
			v := relevance.Float64
			r.RelevanceScore = &v
		}
		if citations.Valid {
			n := int(citations.Int64)
			r.CitationCount = &n
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		responses = append(responses, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration failed: %v", apperr.ErrPersistence, err)
	}

	return responses, nil
}

func (c *Client) GetQueryHistory(userID string, limit int) ([]models.Query, error) {
	query := `
		SELECT id, user_id, original_query, refined_query, sources, llms, status, created_at
		FROM queries
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get query history: %v", apperr.ErrPersistence, err)
	}
	defer rows.Close()

	return scanQueryRows(rows)
}

// UserQueriesSince returns one user's queries created on or after the given
// time, newest first. Feeds the per-user cost report.
func (c *Client) UserQueriesSince(userID string, since time.Time) ([]models.Query, error) {
	query := `
		SELECT id, user_id, original_query, refined_query, sources, llms, status, created_at
		FROM queries
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := c.db.Query(query, userID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get user queries: %v", apperr.ErrPersistence, err)
	}
	defer rows.Close()

	return scanQueryRows(rows)
}

// RecentCompletedQueries returns queries that finished successfully since
// the given time, newest first. The nightly digest feeds on these.
func (c *Client) RecentCompletedQueries(since time.Time) ([]models.Query, error) {
	query := `
		SELECT id, user_id, original_query, refined_query, sources, llms, status, created_at
		FROM queries
		WHERE status = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := c.db.Query(query, models.StatusCompleted, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get completed queries: %v", apperr.ErrPersistence, err)
	}
	defer rows.Close()

	return scanQueryRows(rows)
}

func scanQueryRows(rows *sql.Rows) ([]models.Query, error) {
	var queries []models.Query
	for rows.Next() {
		var q models.Query
		var refinedQuery sql.NullString
		var sourcesJSON, llmsJSON string
		var createdAt int64

		err := rows.Scan(&q.ID, &q.UserID, &q.OriginalQuery, &refinedQuery,
			&sourcesJSON, &llmsJSON, &q.Status, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %v", apperr.ErrPersistence, err)
		}

		q.RefinedQuery = refinedQuery.String
		json.Unmarshal([]byte(sourcesJSON), &q.Sources)
		json.Unmarshal([]byte(llmsJSON), &q.LLMs)
		q.CreatedAt = time.Unix(createdAt, 0)
		queries = append(queries, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration failed: %v", apperr.ErrPersistence, err)
	}

	return queries, nil
}

func (c *Client) InsertDigest(d *models.ResearchDigest) error {
	sourcesJSON, _ := json.Marshal(d.Sources)
	topicsJSON, _ := json.Marshal(d.TopTopics)

	query := `
		INSERT INTO research_digests (id, digest_date, sources, total_articles,
			top_topics, key_findings, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		d.ID,
		d.DigestDate,
		string(sourcesJSON),
		d.TotalArticles,
		string(topicsJSON),
		d.KeyFindings,
		d.Status,
		d.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("%w: failed to insert digest: %v", apperr.ErrPersistence, err)
	}

	logger.Info("Research digest stored",
		zap.String("digest_id", d.ID),
		zap.String("date", d.DigestDate),
		zap.Int("total_articles", d.TotalArticles),
	)

	return nil
}

func (c *Client) ListDigests(limit int) ([]models.ResearchDigest, error) {
	query := `
		SELECT id, digest_date, sources, total_articles, top_topics, key_findings, status, created_at
		FROM research_digests
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list digests: %v", apperr.ErrPersistence, err)
	}
	defer rows.Close()

	var digests []models.ResearchDigest
	for rows.Next() {
		var d models.ResearchDigest
		var sourcesJSON, topicsJSON string
		var keyFindings sql.NullString
		var createdAt int64

		err := rows.Scan(&d.ID, &d.DigestDate, &sourcesJSON, &d.TotalArticles,
			&topicsJSON, &keyFindings, &d.Status, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %v", apperr.ErrPersistence, err)
		}

		json.Unmarshal([]byte(sourcesJSON), &d.Sources)
		json.Unmarshal([]byte(topicsJSON), &d.TopTopics)
		d.KeyFindings = keyFindings.String
		d.CreatedAt = time.Unix(createdAt, 0)
		digests = append(digests, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration failed: %v", apperr.ErrPersistence, err)
	}

	return digests, nil
}
