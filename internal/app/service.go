package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"plume/api/internal/auth"
	"plume/api/internal/authpw"
	"plume/api/internal/config"
	"plume/api/internal/export"
	"plume/api/internal/ownership"
	"plume/api/internal/revisions"
	"plume/api/internal/search"
	"plume/api/internal/store"
	"plume/api/internal/tags"
	"plume/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	AccountID    int64
	Username     string
	Nickname     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetAccountByID(context.Context, int64) (store.Account, error)

	SaveRefreshSession(ctx context.Context, tokenHash string, account store.Account, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Account, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccountSessions(ctx context.Context, accountID int64) error

	InsertPost(context.Context, store.Post) (store.Post, error)
	GetPost(context.Context, int64) (store.Post, error)
	ListPosts(ctx context.Context, query string) ([]store.Post, error)
	UpdatePost(ctx context.Context, postID int64, title, body, thumbRef, fileRef string) error
	DeletePost(context.Context, int64) error
	IncrementViewCount(context.Context, int64) (int64, error)

	EnsureTag(ctx context.Context, name string) (store.Tag, error)
	AttachTag(ctx context.Context, postID, tagID int64) error
	ListPostTags(ctx context.Context, postID int64) ([]store.Tag, error)

	InsertComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(ctx context.Context, postID, commentID int64) (store.Comment, error)
	ListPostComments(ctx context.Context, postID int64) ([]store.Comment, error)
	UpdateCommentMessage(ctx context.Context, commentID int64, message string) error
	DeleteComment(ctx context.Context, commentID int64) error

	InsertReply(context.Context, store.Reply) (store.Reply, error)
	GetReply(ctx context.Context, postID, commentID, replyID int64) (store.Reply, error)
	ListPostReplies(ctx context.Context, postID int64) ([]store.Reply, error)
	UpdateReplyMessage(ctx context.Context, replyID int64, message string) error
	DeleteReply(ctx context.Context, replyID int64) error
}

// revisionLog is the post history recorder. Optional; a nil implementation
// disables history without touching the write paths.
type revisionLog interface {
	CommitRevision(postID int64, content revisions.Content, author, message string) (revisions.Info, error)
	History(postID int64, limit int) ([]revisions.Info, error)
	GetByHash(postID int64, hash string) (revisions.Content, error)
	Remove(postID int64) error
}

// searchIndex decouples the service from the concrete search facade.
type searchIndex interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
	IndexPost(post search.PostRecord)
	DeletePost(id int64)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	accounts  *authpw.Service
	revisions revisionLog
	search    searchIndex
	exporter  *export.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		accounts: authpw.NewService(dataStore),
	}
	svc.exporter = export.NewService(svc)
	return svc
}

// WithSessionStore swaps refresh-session persistence to an external store,
// typically Redis. Postgres remains the source of truth for everything else.
func (s *Service) WithSessionStore(sessions SessionStore) *Service {
	s.store = &sessionOverlay{dataStore: s.store, sessions: sessions}
	return s
}

// WithRevisions enables git-backed post history.
func (s *Service) WithRevisions(rev *revisions.Service) *Service {
	s.revisions = rev
	return s
}

// WithSearch enables the search facade for list queries and indexing.
func (s *Service) WithSearch(idx *search.Service) *Service {
	s.search = idx
	return s
}

// SessionStore is the refresh-session subset that can live outside postgres.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, account store.Account, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Account, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccountSessions(ctx context.Context, accountID int64) error
}

// sessionOverlay routes refresh-session calls to the external store and
// everything else to the postgres store.
type sessionOverlay struct {
	dataStore
	sessions SessionStore
}

func (o *sessionOverlay) SaveRefreshSession(ctx context.Context, tokenHash string, account store.Account, expiresAt time.Time) error {
	return o.sessions.SaveRefreshSession(ctx, tokenHash, account, expiresAt)
}

func (o *sessionOverlay) LookupRefreshSession(ctx context.Context, tokenHash string) (store.Account, error) {
	return o.sessions.LookupRefreshSession(ctx, tokenHash)
}

func (o *sessionOverlay) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return o.sessions.RevokeRefreshSession(ctx, tokenHash)
}

func (o *sessionOverlay) RevokeAccountSessions(ctx context.Context, accountID int64) error {
	return o.sessions.RevokeAccountSessions(ctx, accountID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Accounts and sessions ──

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (map[string]any, error) {
	account, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return nil, mapAccountError(err)
	}
	return map[string]any{
		"accountId": account.ID,
		"username":  account.Username,
		"nickname":  account.Nickname,
	}, nil
}

func (s *Service) SignIn(ctx context.Context, username, password string) (Session, error) {
	account, err := s.accounts.SignIn(ctx, username, password)
	if err != nil {
		return Session{}, mapAccountError(err)
	}
	return s.issueSession(ctx, account)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	account, err := s.store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, account)
}

func (s *Service) issueSession(ctx context.Context, account store.Account) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  account.ID,
		Name: account.Nickname,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.store.SaveRefreshSession(ctx, auth.HashToken(refresh), account, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		AccountID:    account.ID,
		Username:     account.Username,
		Nickname:     account.Nickname,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	account, err := s.store.GetAccountByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		AccountID: account.ID,
		Username:  account.Username,
		Nickname:  account.Nickname,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.store.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) ChangeNickname(ctx context.Context, session Session, nickname string) (map[string]any, error) {
	if err := s.accounts.ChangeNickname(ctx, session.AccountID, nickname); err != nil {
		return nil, mapAccountError(err)
	}
	return map[string]any{
		"accountId": session.AccountID,
		"nickname":  strings.TrimSpace(nickname),
	}, nil
}

// ChangePassword verifies the current password before committing the new one,
// then revokes every outstanding refresh session and issues a fresh one so
// the caller stays signed in while stolen tokens die.
func (s *Service) ChangePassword(ctx context.Context, session Session, currentPassword, newPassword string) (Session, error) {
	if err := s.accounts.ChangePassword(ctx, session.AccountID, currentPassword, newPassword); err != nil {
		return Session{}, mapAccountError(err)
	}
	if err := s.store.RevokeAccountSessions(ctx, session.AccountID); err != nil {
		return Session{}, err
	}

	account, err := s.store.GetAccountByID(ctx, session.AccountID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, account)
}

// DeleteAccount removes the account after the caller re-enters the password.
// Only the account itself passes the ownership check.
func (s *Service) DeleteAccount(ctx context.Context, session Session, accountID int64, password string) error {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !ownership.Authorize(session.AccountID, account) {
		return errForbidden("only the account owner may delete it")
	}
	if err := s.accounts.DeleteAccount(ctx, accountID, password); err != nil {
		return mapAccountError(err)
	}
	_ = s.store.RevokeAccountSessions(ctx, accountID)
	return nil
}

func mapAccountError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrValidation):
		return errValidation(err.Error(), nil)
	case errors.Is(err, authpw.ErrUsernameTaken):
		return errConflict("username already taken")
	case errors.Is(err, authpw.ErrPasswordMismatch):
		return errValidation("current password does not match", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
	default:
		return err
	}
}

// ── Posts ──

func (s *Service) CreatePost(ctx context.Context, session Session, title, body, tagLine, thumbRef, fileRef string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("title is required", nil)
	}
	if strings.TrimSpace(body) == "" {
		return nil, errValidation("body is required", nil)
	}

	post, err := s.store.InsertPost(ctx, store.Post{
		AccountID: session.AccountID,
		Title:     title,
		Body:      body,
		ThumbRef:  thumbRef,
		FileRef:   fileRef,
	})
	if err != nil {
		return nil, err
	}
	post.Author = session.Nickname

	postTags, err := s.applyTags(ctx, post.ID, tagLine)
	if err != nil {
		return nil, err
	}
	post.Tags = postTags

	s.indexPost(post)
	s.commitRevision(post, session.Nickname, "Create post")

	return postPayload(post), nil
}

// applyTags normalizes the comma-separated tag line and associates each tag
// with the post. Associations are additive; tags absent from the line are
// never detached here.
func (s *Service) applyTags(ctx context.Context, postID int64, tagLine string) ([]store.Tag, error) {
	for _, name := range tags.Normalize(tagLine) {
		tag, err := s.store.EnsureTag(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := s.store.AttachTag(ctx, postID, tag.ID); err != nil {
			return nil, err
		}
	}
	return s.store.ListPostTags(ctx, postID)
}

func (s *Service) ListPosts(ctx context.Context, query string) (map[string]any, error) {
	query = strings.TrimSpace(query)

	if s.search != nil && query != "" {
		resp, err := s.search.Search(ctx, search.Query{Text: query})
		if err == nil {
			return map[string]any{
				"posts": resp.Results,
				"total": resp.Total,
				"query": resp.Query,
			}, nil
		}
	}

	posts, err := s.store.ListPosts(ctx, query)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(posts))
	for _, post := range posts {
		items = append(items, postPayload(post))
	}
	return map[string]any{
		"posts": items,
		"total": len(items),
		"query": query,
	}, nil
}

// GetPostDetail returns a post with its tags and discussion, bumping the view
// counter as a side effect of the read.
func (s *Service) GetPostDetail(ctx context.Context, postID int64) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	viewCount, err := s.store.IncrementViewCount(ctx, postID)
	if err != nil {
		return nil, err
	}
	post.ViewCount = viewCount

	comments, err := s.store.ListPostComments(ctx, postID)
	if err != nil {
		return nil, err
	}
	replies, err := s.store.ListPostReplies(ctx, postID)
	if err != nil {
		return nil, err
	}

	repliesByComment := make(map[int64][]map[string]any)
	for _, reply := range replies {
		repliesByComment[reply.CommentID] = append(repliesByComment[reply.CommentID], replyPayload(reply))
	}

	commentItems := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		item := commentPayload(comment)
		item["replies"] = repliesByComment[comment.ID]
		if item["replies"] == nil {
			item["replies"] = []map[string]any{}
		}
		commentItems = append(commentItems, item)
	}

	payload := postPayload(post)
	payload["comments"] = commentItems
	return payload, nil
}

func (s *Service) UpdatePost(ctx context.Context, session Session, postID int64, title, body, tagLine, thumbRef, fileRef string) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !ownership.Authorize(session.AccountID, post) {
		return nil, errForbidden("only the author may edit this post")
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("title is required", nil)
	}
	if strings.TrimSpace(body) == "" {
		return nil, errValidation("body is required", nil)
	}
	if thumbRef == "" {
		thumbRef = post.ThumbRef
	}
	if fileRef == "" {
		fileRef = post.FileRef
	}

	if err := s.store.UpdatePost(ctx, postID, title, body, thumbRef, fileRef); err != nil {
		return nil, err
	}

	post.Title = title
	post.Body = body
	post.ThumbRef = thumbRef
	post.FileRef = fileRef

	postTags, err := s.applyTags(ctx, postID, tagLine)
	if err != nil {
		return nil, err
	}
	post.Tags = postTags

	s.indexPost(post)
	s.commitRevision(post, session.Nickname, "Edit post")

	return postPayload(post), nil
}

func (s *Service) DeletePost(ctx context.Context, session Session, postID int64) error {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if !ownership.Authorize(session.AccountID, post) {
		return errForbidden("only the author may delete this post")
	}

	if err := s.store.DeletePost(ctx, postID); err != nil {
		return err
	}

	if s.search != nil {
		s.search.DeletePost(postID)
	}
	if s.revisions != nil {
		_ = s.revisions.Remove(postID)
	}
	return nil
}

func (s *Service) indexPost(post store.Post) {
	if s.search == nil {
		return
	}
	names := make([]string, 0, len(post.Tags))
	for _, tag := range post.Tags {
		names = append(names, tag.Name)
	}
	s.search.IndexPost(search.PostRecord{
		ID:     post.ID,
		Title:  post.Title,
		Body:   post.Body,
		Author: post.Author,
		Tags:   names,
	})
}

func (s *Service) commitRevision(post store.Post, author, message string) {
	if s.revisions == nil {
		return
	}
	names := make([]string, 0, len(post.Tags))
	for _, tag := range post.Tags {
		names = append(names, tag.Name)
	}
	_, _ = s.revisions.CommitRevision(post.ID, revisions.Content{
		Title: post.Title,
		Body:  post.Body,
		Tags:  names,
	}, author, message)
}

func (s *Service) PostHistory(ctx context.Context, postID int64, limit int) (map[string]any, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return map[string]any{"revisions": []revisions.Info{}}, nil
	}
	history, err := s.revisions.History(postID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"revisions": history}, nil
}

func (s *Service) PostRevision(ctx context.Context, postID int64, hash string) (map[string]any, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return nil, errNotFound("revision history not enabled")
	}
	content, err := s.revisions.GetByHash(postID, hash)
	if err != nil {
		return nil, errNotFound("revision not found")
	}
	return map[string]any{
		"hash":  hash,
		"title": content.Title,
		"body":  content.Body,
		"tags":  content.Tags,
	}, nil
}

func (s *Service) ExportPost(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.exporter.Export(ctx, req)
}

// GetExportPost adapts the store for the export renderer.
func (s *Service) GetExportPost(ctx context.Context, postID int64) (export.Post, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return export.Post{}, err
	}
	names := make([]string, 0, len(post.Tags))
	for _, tag := range post.Tags {
		names = append(names, tag.Name)
	}
	return export.Post{
		ID:        post.ID,
		Title:     post.Title,
		Body:      post.Body,
		Author:    post.Author,
		Tags:      names,
		UpdatedAt: post.UpdatedAt,
	}, nil
}

func (s *Service) ListExportComments(ctx context.Context, postID int64) ([]export.Comment, error) {
	comments, err := s.store.ListPostComments(ctx, postID)
	if err != nil {
		return nil, err
	}
	replies, err := s.store.ListPostReplies(ctx, postID)
	if err != nil {
		return nil, err
	}

	repliesByComment := make(map[int64][]export.Reply)
	for _, reply := range replies {
		repliesByComment[reply.CommentID] = append(repliesByComment[reply.CommentID], export.Reply{
			Author:    reply.Author,
			Message:   reply.Message,
			CreatedAt: reply.CreatedAt,
		})
	}

	items := make([]export.Comment, 0, len(comments))
	for _, comment := range comments {
		items = append(items, export.Comment{
			Author:    comment.Author,
			Message:   comment.Message,
			CreatedAt: comment.CreatedAt,
			Replies:   repliesByComment[comment.ID],
		})
	}
	return items, nil
}

// ── Comments ──

func (s *Service) CreateComment(ctx context.Context, session Session, postID int64, message string) (map[string]any, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errValidation("message is required", nil)
	}
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		PostID:    postID,
		AccountID: session.AccountID,
		Message:   message,
	})
	if err != nil {
		return nil, err
	}
	comment.Author = session.Nickname
	return commentPayload(comment), nil
}

func (s *Service) UpdateComment(ctx context.Context, session Session, postID, commentID int64, message string) (map[string]any, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errValidation("message is required", nil)
	}

	comment, err := s.store.GetComment(ctx, postID, commentID)
	if err != nil {
		return nil, err
	}
	if !ownership.Authorize(session.AccountID, comment) {
		return nil, errForbidden("only the author may edit this comment")
	}

	if err := s.store.UpdateCommentMessage(ctx, commentID, message); err != nil {
		return nil, err
	}
	comment.Message = message
	return commentPayload(comment), nil
}

func (s *Service) DeleteComment(ctx context.Context, session Session, postID, commentID int64) error {
	comment, err := s.store.GetComment(ctx, postID, commentID)
	if err != nil {
		return err
	}
	if !ownership.Authorize(session.AccountID, comment) {
		return errForbidden("only the author may delete this comment")
	}
	return s.store.DeleteComment(ctx, commentID)
}

// ── Replies ──

func (s *Service) CreateReply(ctx context.Context, session Session, postID, commentID int64, message string) (map[string]any, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errValidation("message is required", nil)
	}

	// The parent comment must belong to the post named in the path.
	if _, err := s.store.GetComment(ctx, postID, commentID); err != nil {
		return nil, err
	}

	reply, err := s.store.InsertReply(ctx, store.Reply{
		PostID:    postID,
		CommentID: commentID,
		AccountID: session.AccountID,
		Message:   message,
	})
	if err != nil {
		return nil, err
	}
	reply.Author = session.Nickname
	return replyPayload(reply), nil
}

func (s *Service) UpdateReply(ctx context.Context, session Session, postID, commentID, replyID int64, message string) (map[string]any, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errValidation("message is required", nil)
	}

	reply, err := s.store.GetReply(ctx, postID, commentID, replyID)
	if err != nil {
		return nil, err
	}
	if !ownership.Authorize(session.AccountID, reply) {
		return nil, errForbidden("only the author may edit this reply")
	}

	if err := s.store.UpdateReplyMessage(ctx, replyID, message); err != nil {
		return nil, err
	}
	reply.Message = message
	return replyPayload(reply), nil
}

func (s *Service) DeleteReply(ctx context.Context, session Session, postID, commentID, replyID int64) error {
	reply, err := s.store.GetReply(ctx, postID, commentID, replyID)
	if err != nil {
		return err
	}
	if !ownership.Authorize(session.AccountID, reply) {
		return errForbidden("only the author may delete this reply")
	}
	return s.store.DeleteReply(ctx, replyID)
}

// ── Payload helpers ──

func postPayload(post store.Post) map[string]any {
	names := make([]string, 0, len(post.Tags))
	for _, tag := range post.Tags {
		names = append(names, tag.Name)
	}
	return map[string]any{
		"id":        post.ID,
		"author":    post.Author,
		"title":     post.Title,
		"body":      post.Body,
		"thumbRef":  post.ThumbRef,
		"fileRef":   post.FileRef,
		"viewCount": post.ViewCount,
		"tags":      names,
		"createdAt": post.CreatedAt,
		"updatedAt": post.UpdatedAt,
	}
}

func commentPayload(comment store.Comment) map[string]any {
	return map[string]any{
		"id":        comment.ID,
		"postId":    comment.PostID,
		"author":    comment.Author,
		"message":   comment.Message,
		"createdAt": comment.CreatedAt,
		"updatedAt": comment.UpdatedAt,
	}
}

func replyPayload(reply store.Reply) map[string]any {
	return map[string]any{
		"id":        reply.ID,
		"postId":    reply.PostID,
		"commentId": reply.CommentID,
		"author":    reply.Author,
		"message":   reply.Message,
		"createdAt": reply.CreatedAt,
		"updatedAt": reply.UpdatedAt,
	}
}
