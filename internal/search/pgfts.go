package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across dialog events and social-media
// posts using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultEvent {
		where := "de.plaintext_tsv @@ " + tsQuery
		if q.DatasetID != 0 {
			where += fmt.Sprintf(" AND de.dataset_id = $%d", argN)
			args = append(args, q.DatasetID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'event'::text AS type, de.id::text,
				ts_headline('english', de.plaintext, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				de.dataset_id::text, de.dialog_turn_id::text AS turn_id,
				de.event_n, de.speaker,
				ts_rank(de.plaintext_tsv, %s) AS rank
			FROM dialog_events de
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultPost {
		where := "sp.question_tsv @@ " + tsQuery
		if q.DatasetID != 0 {
			where += fmt.Sprintf(" AND sp.dataset_id = $%d", argN)
			args = append(args, q.DatasetID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, sp.id::text,
				ts_headline('english', sp.question, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				sp.dataset_id::text, ''::text AS turn_id,
				0 AS event_n, sp.user_id AS speaker,
				ts_rank(sp.question_tsv, %s) AS rank
			FROM sm_posts sp
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, snippet, dataset_id, turn_id, event_n, speaker
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRow(countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.Query(dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rtyp string
		if err := rows.Scan(&rtyp, &r.ID, &r.Snippet, &r.DatasetID, &r.TurnID, &r.EventN, &r.Speaker); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(rtyp)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadDataset reads every searchable row of one dataset for reindexing into
// Meilisearch. A zero datasetID loads everything.
func (p *PgFTS) LoadDataset(ctx context.Context, datasetID int64) ([]EventRecord, []PostRecord, error) {
	eventSQL := `
		SELECT id, dataset_id, dialog_turn_id, event_n, speaker, plaintext
		FROM dialog_events`
	postSQL := `
		SELECT id, dataset_id, user_id, question
		FROM sm_posts`
	var args []any
	if datasetID != 0 {
		eventSQL += " WHERE dataset_id = $1"
		postSQL += " WHERE dataset_id = $1"
		args = append(args, datasetID)
	}

	rows, err := p.db.QueryContext(ctx, eventSQL, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var (
			rec            EventRecord
			id, ds, turnID int64
		)
		if err := rows.Scan(&id, &ds, &turnID, &rec.EventN, &rec.Speaker, &rec.Plaintext); err != nil {
			return nil, nil, fmt.Errorf("scan event: %w", err)
		}
		rec.ID = fmt.Sprint(id)
		rec.DatasetID = fmt.Sprint(ds)
		rec.TurnID = fmt.Sprint(turnID)
		events = append(events, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	postRows, err := p.db.QueryContext(ctx, postSQL, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("load posts: %w", err)
	}
	defer postRows.Close()

	var posts []PostRecord
	for postRows.Next() {
		var (
			rec    PostRecord
			id, ds int64
		)
		if err := postRows.Scan(&id, &ds, &rec.UserID, &rec.Question); err != nil {
			return nil, nil, fmt.Errorf("scan post: %w", err)
		}
		rec.ID = fmt.Sprint(id)
		rec.DatasetID = fmt.Sprint(ds)
		posts = append(posts, rec)
	}
	return events, posts, postRows.Err()
}
