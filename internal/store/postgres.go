package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate is returned when an insert collides with a uniqueness
// constraint that the caller should surface as a conflict.
var ErrDuplicate = errors.New("duplicate record")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ---- accounts ----

// CreateAccount inserts the account and its profile in one transaction so a
// failed profile insert can never leave an orphan account behind.
func (s *PostgresStore) CreateAccount(ctx context.Context, username, passwordHash, nickname string) (Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, fmt.Errorf("begin create account tx: %w", err)
	}
	defer tx.Rollback()

	var account Account
	err = tx.QueryRowContext(ctx, `
		INSERT INTO accounts (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, created_at
	`, username, passwordHash).Scan(&account.ID, &account.Username, &account.PasswordHash, &account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, fmt.Errorf("username %q: %w", username, ErrDuplicate)
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (account_id, nickname)
		VALUES ($1, $2)
	`, account.ID, nickname); err != nil {
		return Account{}, fmt.Errorf("insert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Account{}, fmt.Errorf("commit create account tx: %w", err)
	}
	account.Nickname = nickname
	return account, nil
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (Account, error) {
	return s.getAccount(ctx, `WHERE a.username=$1`, username)
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, accountID int64) (Account, error) {
	return s.getAccount(ctx, `WHERE a.id=$1`, accountID)
}

func (s *PostgresStore) getAccount(ctx context.Context, where string, arg any) (Account, error) {
	query := `
		SELECT a.id, a.username, a.password_hash, COALESCE(p.nickname, ''), a.created_at
		FROM accounts a
		LEFT JOIN profiles p ON p.account_id = a.id
	` + where
	var account Account
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Username,
		&account.PasswordHash,
		&account.Nickname,
		&account.CreatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

func (s *PostgresStore) UpdateNickname(ctx context.Context, accountID int64, nickname string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE profiles SET nickname=$2 WHERE account_id=$1`, accountID, nickname)
	if err != nil {
		return fmt.Errorf("update nickname: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateAccountPassword(ctx context.Context, accountID int64, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET password_hash=$2 WHERE id=$1`, accountID, passwordHash)
	if err != nil {
		return fmt.Errorf("update account password: %w", err)
	}
	return nil
}

// DeleteAccount removes the account and everything it owns in dependency
// order inside one transaction. The schema's ON DELETE CASCADE clauses are a
// backstop; the explicit order keeps the cascade visible and testable.
func (s *PostgresStore) DeleteAccount(ctx context.Context, accountID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete account tx: %w", err)
	}
	defer tx.Rollback()

	cascade := []string{
		`DELETE FROM replies WHERE account_id=$1
			OR comment_id IN (SELECT id FROM comments WHERE account_id=$1)
			OR post_id IN (SELECT id FROM posts WHERE account_id=$1)`,
		`DELETE FROM comments WHERE account_id=$1
			OR post_id IN (SELECT id FROM posts WHERE account_id=$1)`,
		`DELETE FROM post_tags WHERE post_id IN (SELECT id FROM posts WHERE account_id=$1)`,
		`DELETE FROM posts WHERE account_id=$1`,
		`DELETE FROM refresh_sessions WHERE account_id=$1`,
		`DELETE FROM profiles WHERE account_id=$1`,
	}
	for _, statement := range cascade {
		if _, err := tx.ExecContext(ctx, statement, accountID); err != nil {
			return fmt.Errorf("cascade delete account %d: %w", accountID, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id=$1`, accountID)
	if err != nil {
		return fmt.Errorf("delete account %d: %w", accountID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete account tx: %w", err)
	}
	return nil
}

// ---- refresh sessions (postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, account Account, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, account_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET account_id=EXCLUDED.account_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, account.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Account, error) {
	const query = `
		SELECT a.id, a.username, a.password_hash, COALESCE(p.nickname, ''), a.created_at
		FROM refresh_sessions rs
		JOIN accounts a ON a.id = rs.account_id
		LEFT JOIN profiles p ON p.account_id = a.id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var account Account
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&account.ID,
		&account.Username,
		&account.PasswordHash,
		&account.Nickname,
		&account.CreatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// RevokeAccountSessions revokes every live refresh session of an account.
// Used after a password change so stale sessions cannot outlive the old
// credential.
func (s *PostgresStore) RevokeAccountSessions(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE account_id=$1 AND revoked_at IS NULL`, accountID)
	if err != nil {
		return fmt.Errorf("revoke account sessions: %w", err)
	}
	return nil
}

// ---- posts ----

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) (Post, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO posts (account_id, title, body, thumb_ref, file_ref)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, view_count, created_at, updated_at
	`, post.AccountID, post.Title, post.Body, post.ThumbRef, post.FileRef).Scan(
		&post.ID,
		&post.ViewCount,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	return post, nil
}

const postColumns = `
	p.id, p.account_id, COALESCE(pr.nickname, ''), p.title, p.body,
	p.thumb_ref, p.file_ref, p.view_count, p.created_at, p.updated_at
`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var post Post
	err := row.Scan(
		&post.ID,
		&post.AccountID,
		&post.Author,
		&post.Title,
		&post.Body,
		&post.ThumbRef,
		&post.FileRef,
		&post.ViewCount,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	return post, err
}

func (s *PostgresStore) GetPost(ctx context.Context, postID int64) (Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		LEFT JOIN profiles pr ON pr.account_id = p.account_id
		WHERE p.id=$1
	`, postID)
	post, err := scanPost(row)
	if err != nil {
		return Post{}, err
	}
	tags, err := s.ListPostTags(ctx, postID)
	if err != nil {
		return Post{}, err
	}
	post.Tags = tags
	return post, nil
}

// ListPosts returns posts newest first. A non-empty query narrows the list to
// posts whose title or any tag name contains the query as a substring.
func (s *PostgresStore) ListPosts(ctx context.Context, query string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT `+postColumns+`
		FROM posts p
		LEFT JOIN profiles pr ON pr.account_id = p.account_id
		LEFT JOIN post_tags pt ON pt.post_id = p.id
		LEFT JOIN tags t ON t.id = pt.tag_id
		WHERE $1 = '' OR p.title ILIKE '%' || $1 || '%' OR t.name ILIKE '%' || $1 || '%'
		ORDER BY p.created_at DESC
	`, query)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdatePost(ctx context.Context, postID int64, title, body, thumbRef, fileRef string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET title=$2, body=$3, thumb_ref=$4, file_ref=$5, updated_at=NOW()
		WHERE id=$1
	`, postID, title, body, thumbRef, fileRef)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePost(ctx context.Context, postID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=$1`, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

// IncrementViewCount bumps the counter and returns the new value. The counter
// only ever moves up.
func (s *PostgresStore) IncrementViewCount(ctx context.Context, postID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE posts SET view_count = view_count + 1 WHERE id=$1 RETURNING view_count
	`, postID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment view count: %w", err)
	}
	return count, nil
}

// ---- tags ----

// EnsureTag finds or creates the tag with the given (already trimmed) name.
// Two requests can race to create the same name; the unique constraint on
// tags.name picks the winner and the loser re-fetches the surviving row.
func (s *PostgresStore) EnsureTag(ctx context.Context, name string) (Tag, error) {
	var tag Tag
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE name=$1`, name).Scan(&tag.ID, &tag.Name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Tag{}, fmt.Errorf("lookup tag: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `INSERT INTO tags (name) VALUES ($1) RETURNING id, name`, name).Scan(&tag.ID, &tag.Name)
	if err == nil {
		return tag, nil
	}
	if !isUniqueViolation(err) {
		return Tag{}, fmt.Errorf("insert tag: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE name=$1`, name).Scan(&tag.ID, &tag.Name); err != nil {
		return Tag{}, fmt.Errorf("refetch tag after conflict: %w", err)
	}
	return tag, nil
}

// AttachTag associates a tag with a post. Re-attaching is a no-op.
func (s *PostgresStore) AttachTag(ctx context.Context, postID, tagID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_tags (post_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT (post_id, tag_id) DO NOTHING
	`, postID, tagID)
	if err != nil {
		return fmt.Errorf("attach tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPostTags(ctx context.Context, postID int64) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name
		FROM post_tags pt
		JOIN tags t ON t.id = pt.tag_id
		WHERE pt.post_id=$1
		ORDER BY t.name
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list post tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

// ---- comments ----

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (post_id, account_id, message)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, comment.PostID, comment.AccountID, comment.Message).Scan(
		&comment.ID,
		&comment.CreatedAt,
		&comment.UpdatedAt,
	)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

// GetComment fetches a comment only when it actually belongs to the claimed
// post. A valid comment id paired with the wrong post id reads as absent.
func (s *PostgresStore) GetComment(ctx context.Context, postID, commentID int64) (Comment, error) {
	var comment Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.post_id, c.account_id, COALESCE(p.nickname, ''), c.message, c.created_at, c.updated_at
		FROM comments c
		LEFT JOIN profiles p ON p.account_id = c.account_id
		WHERE c.id=$1 AND c.post_id=$2
	`, commentID, postID).Scan(
		&comment.ID,
		&comment.PostID,
		&comment.AccountID,
		&comment.Author,
		&comment.Message,
		&comment.CreatedAt,
		&comment.UpdatedAt,
	)
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

func (s *PostgresStore) ListPostComments(ctx context.Context, postID int64) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.post_id, c.account_id, COALESCE(p.nickname, ''), c.message, c.created_at, c.updated_at
		FROM comments c
		LEFT JOIN profiles p ON p.account_id = c.account_id
		WHERE c.post_id=$1
		ORDER BY c.created_at DESC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(
			&comment.ID,
			&comment.PostID,
			&comment.AccountID,
			&comment.Author,
			&comment.Message,
			&comment.CreatedAt,
			&comment.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateCommentMessage(ctx context.Context, commentID int64, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE comments SET message=$2, updated_at=NOW() WHERE id=$1
	`, commentID, message)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// ---- replies ----

func (s *PostgresStore) InsertReply(ctx context.Context, reply Reply) (Reply, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO replies (post_id, comment_id, account_id, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, reply.PostID, reply.CommentID, reply.AccountID, reply.Message).Scan(
		&reply.ID,
		&reply.CreatedAt,
		&reply.UpdatedAt,
	)
	if err != nil {
		return Reply{}, fmt.Errorf("insert reply: %w", err)
	}
	return reply, nil
}

// GetReply fetches a reply only when the whole claimed chain agrees: the
// reply hangs off the claimed comment, and that comment hangs off the claimed
// post. Any mismatch reads as absent.
func (s *PostgresStore) GetReply(ctx context.Context, postID, commentID, replyID int64) (Reply, error) {
	var reply Reply
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.post_id, r.comment_id, r.account_id, COALESCE(p.nickname, ''), r.message, r.created_at, r.updated_at
		FROM replies r
		JOIN comments c ON c.id = r.comment_id
		LEFT JOIN profiles p ON p.account_id = r.account_id
		WHERE r.id=$1 AND r.comment_id=$2 AND c.post_id=$3 AND r.post_id=$3
	`, replyID, commentID, postID).Scan(
		&reply.ID,
		&reply.PostID,
		&reply.CommentID,
		&reply.AccountID,
		&reply.Author,
		&reply.Message,
		&reply.CreatedAt,
		&reply.UpdatedAt,
	)
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}

func (s *PostgresStore) ListPostReplies(ctx context.Context, postID int64) ([]Reply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.post_id, r.comment_id, r.account_id, COALESCE(p.nickname, ''), r.message, r.created_at, r.updated_at
		FROM replies r
		LEFT JOIN profiles p ON p.account_id = r.account_id
		WHERE r.post_id=$1
		ORDER BY r.created_at DESC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	items := make([]Reply, 0)
	for rows.Next() {
		var reply Reply
		if err := rows.Scan(
			&reply.ID,
			&reply.PostID,
			&reply.CommentID,
			&reply.AccountID,
			&reply.Author,
			&reply.Message,
			&reply.CreatedAt,
			&reply.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		items = append(items, reply)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateReplyMessage(ctx context.Context, replyID int64, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE replies SET message=$2, updated_at=NOW() WHERE id=$1
	`, replyID, message)
	if err != nil {
		return fmt.Errorf("update reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteReply(ctx context.Context, replyID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM replies WHERE id=$1`, replyID)
	if err != nil {
		return fmt.Errorf("delete reply: %w", err)
	}
	return nil
}
