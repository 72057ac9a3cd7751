package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PGLike answers search queries straight from postgres with ILIKE matching
// over titles and tag names. It is the fallback path when Meilisearch is
// unconfigured or down.
type PGLike struct {
	db *sql.DB
}

func NewPGLike(db *sql.DB) *PGLike {
	return &PGLike{db: db}
}

// Search matches the query text against post titles and tag names.
func (p *PGLike) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	pattern := "%" + q.Text + "%"

	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.title, LEFT(p.body, 200), COALESCE(pr.nickname, ''),
		       COALESCE(STRING_AGG(DISTINCT t.name, ','), '')
		FROM posts p
		LEFT JOIN profiles pr ON pr.account_id = p.account_id
		LEFT JOIN post_tags pt ON pt.post_id = p.id
		LEFT JOIN tags t ON t.id = pt.tag_id
		WHERE p.title ILIKE $1
		   OR EXISTS (
		        SELECT 1 FROM post_tags pt2
		        JOIN tags t2 ON t2.id = pt2.tag_id
		        WHERE pt2.post_id = p.id AND t2.name ILIKE $1
		   )
		GROUP BY p.id, p.title, p.body, pr.nickname, p.created_at
		ORDER BY p.created_at DESC
		LIMIT $2 OFFSET $3`,
		pattern, limit, q.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("search posts: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var tagList string
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Author, &tagList); err != nil {
			return nil, 0, fmt.Errorf("scan search row: %w", err)
		}
		if tagList != "" {
			r.Tags = strings.Split(tagList, ",")
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = p.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT p.id)
		FROM posts p
		WHERE p.title ILIKE $1
		   OR EXISTS (
		        SELECT 1 FROM post_tags pt2
		        JOIN tags t2 ON t2.id = pt2.tag_id
		        WHERE pt2.post_id = p.id AND t2.name ILIKE $1
		   )`,
		pattern,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	return results, total, nil
}
