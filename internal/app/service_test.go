package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"plume/api/internal/authpw"
	"plume/api/internal/config"
	"plume/api/internal/store"

	"golang.org/x/crypto/bcrypt"
)

type fakeStore struct {
	pingFn func(context.Context) error

	createAccountFn  func(context.Context, string, string, string) (store.Account, error)
	getByUsernameFn  func(context.Context, string) (store.Account, error)
	getByIDFn        func(context.Context, int64) (store.Account, error)
	updateNicknameFn func(context.Context, int64, string) error
	updatePasswordFn func(context.Context, int64, string) error
	deleteAccountFn  func(context.Context, int64) error

	saveRefreshFn    func(context.Context, string, store.Account, time.Time) error
	lookupRefreshFn  func(context.Context, string) (store.Account, error)
	revokeRefreshFn  func(context.Context, string) error
	revokeSessionsFn func(context.Context, int64) error

	insertPostFn    func(context.Context, store.Post) (store.Post, error)
	getPostFn       func(context.Context, int64) (store.Post, error)
	listPostsFn     func(context.Context, string) ([]store.Post, error)
	updatePostFn    func(context.Context, int64, string, string, string, string) error
	deletePostFn    func(context.Context, int64) error
	incrementViewFn func(context.Context, int64) (int64, error)

	ensureTagFn    func(context.Context, string) (store.Tag, error)
	attachTagFn    func(context.Context, int64, int64) error
	listPostTagsFn func(context.Context, int64) ([]store.Tag, error)

	insertCommentFn func(context.Context, store.Comment) (store.Comment, error)
	getCommentFn    func(context.Context, int64, int64) (store.Comment, error)
	listCommentsFn  func(context.Context, int64) ([]store.Comment, error)
	updateCommentFn func(context.Context, int64, string) error
	deleteCommentFn func(context.Context, int64) error

	insertReplyFn func(context.Context, store.Reply) (store.Reply, error)
	getReplyFn    func(context.Context, int64, int64, int64) (store.Reply, error)
	listRepliesFn func(context.Context, int64) ([]store.Reply, error)
	updateReplyFn func(context.Context, int64, string) error
	deleteReplyFn func(context.Context, int64) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateAccount(ctx context.Context, username, passwordHash, nickname string) (store.Account, error) {
	if f.createAccountFn != nil {
		return f.createAccountFn(ctx, username, passwordHash, nickname)
	}
	return store.Account{ID: 1, Username: username, PasswordHash: passwordHash, Nickname: nickname}, nil
}

func (f *fakeStore) GetAccountByUsername(ctx context.Context, username string) (store.Account, error) {
	if f.getByUsernameFn != nil {
		return f.getByUsernameFn(ctx, username)
	}
	return store.Account{}, sql.ErrNoRows
}

func (f *fakeStore) GetAccountByID(ctx context.Context, accountID int64) (store.Account, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, accountID)
	}
	return store.Account{ID: accountID, Username: "user", Nickname: "User"}, nil
}

func (f *fakeStore) UpdateNickname(ctx context.Context, accountID int64, nickname string) error {
	if f.updateNicknameFn != nil {
		return f.updateNicknameFn(ctx, accountID, nickname)
	}
	return nil
}

func (f *fakeStore) UpdateAccountPassword(ctx context.Context, accountID int64, passwordHash string) error {
	if f.updatePasswordFn != nil {
		return f.updatePasswordFn(ctx, accountID, passwordHash)
	}
	return nil
}

func (f *fakeStore) DeleteAccount(ctx context.Context, accountID int64) error {
	if f.deleteAccountFn != nil {
		return f.deleteAccountFn(ctx, accountID)
	}
	return nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash string, account store.Account, expiresAt time.Time) error {
	if f.saveRefreshFn != nil {
		return f.saveRefreshFn(ctx, tokenHash, account, expiresAt)
	}
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.Account, error) {
	if f.lookupRefreshFn != nil {
		return f.lookupRefreshFn(ctx, tokenHash)
	}
	return store.Account{}, sql.ErrNoRows
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshFn != nil {
		return f.revokeRefreshFn(ctx, tokenHash)
	}
	return nil
}

func (f *fakeStore) RevokeAccountSessions(ctx context.Context, accountID int64) error {
	if f.revokeSessionsFn != nil {
		return f.revokeSessionsFn(ctx, accountID)
	}
	return nil
}

func (f *fakeStore) InsertPost(ctx context.Context, post store.Post) (store.Post, error) {
	if f.insertPostFn != nil {
		return f.insertPostFn(ctx, post)
	}
	post.ID = 1
	return post, nil
}

func (f *fakeStore) GetPost(ctx context.Context, postID int64) (store.Post, error) {
	if f.getPostFn != nil {
		return f.getPostFn(ctx, postID)
	}
	return store.Post{}, sql.ErrNoRows
}

func (f *fakeStore) ListPosts(ctx context.Context, query string) ([]store.Post, error) {
	if f.listPostsFn != nil {
		return f.listPostsFn(ctx, query)
	}
	return nil, nil
}

func (f *fakeStore) UpdatePost(ctx context.Context, postID int64, title, body, thumbRef, fileRef string) error {
	if f.updatePostFn != nil {
		return f.updatePostFn(ctx, postID, title, body, thumbRef, fileRef)
	}
	return nil
}

func (f *fakeStore) DeletePost(ctx context.Context, postID int64) error {
	if f.deletePostFn != nil {
		return f.deletePostFn(ctx, postID)
	}
	return nil
}

func (f *fakeStore) IncrementViewCount(ctx context.Context, postID int64) (int64, error) {
	if f.incrementViewFn != nil {
		return f.incrementViewFn(ctx, postID)
	}
	return 1, nil
}

func (f *fakeStore) EnsureTag(ctx context.Context, name string) (store.Tag, error) {
	if f.ensureTagFn != nil {
		return f.ensureTagFn(ctx, name)
	}
	return store.Tag{ID: 1, Name: name}, nil
}

func (f *fakeStore) AttachTag(ctx context.Context, postID, tagID int64) error {
	if f.attachTagFn != nil {
		return f.attachTagFn(ctx, postID, tagID)
	}
	return nil
}

func (f *fakeStore) ListPostTags(ctx context.Context, postID int64) ([]store.Tag, error) {
	if f.listPostTagsFn != nil {
		return f.listPostTagsFn(ctx, postID)
	}
	return nil, nil
}

func (f *fakeStore) InsertComment(ctx context.Context, comment store.Comment) (store.Comment, error) {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	comment.ID = 1
	return comment, nil
}

func (f *fakeStore) GetComment(ctx context.Context, postID, commentID int64) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, postID, commentID)
	}
	return store.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) ListPostComments(ctx context.Context, postID int64) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, postID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateCommentMessage(ctx context.Context, commentID int64, message string) error {
	if f.updateCommentFn != nil {
		return f.updateCommentFn(ctx, commentID, message)
	}
	return nil
}

func (f *fakeStore) DeleteComment(ctx context.Context, commentID int64) error {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, commentID)
	}
	return nil
}

func (f *fakeStore) InsertReply(ctx context.Context, reply store.Reply) (store.Reply, error) {
	if f.insertReplyFn != nil {
		return f.insertReplyFn(ctx, reply)
	}
	reply.ID = 1
	return reply, nil
}

func (f *fakeStore) GetReply(ctx context.Context, postID, commentID, replyID int64) (store.Reply, error) {
	if f.getReplyFn != nil {
		return f.getReplyFn(ctx, postID, commentID, replyID)
	}
	return store.Reply{}, sql.ErrNoRows
}

func (f *fakeStore) ListPostReplies(ctx context.Context, postID int64) ([]store.Reply, error) {
	if f.listRepliesFn != nil {
		return f.listRepliesFn(ctx, postID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateReplyMessage(ctx context.Context, replyID int64, message string) error {
	if f.updateReplyFn != nil {
		return f.updateReplyFn(ctx, replyID, message)
	}
	return nil
}

func (f *fakeStore) DeleteReply(ctx context.Context, replyID int64) error {
	if f.deleteReplyFn != nil {
		return f.deleteReplyFn(ctx, replyID)
	}
	return nil
}

func newTestService(fake *fakeStore) *Service {
	cfg := config.Config{
		TokenSecret: "test-secret",
		AccessTTL:   time.Hour,
		RefreshTTL:  24 * time.Hour,
	}
	return &Service{
		cfg:      cfg,
		store:    fake,
		accounts: authpw.NewService(fake),
	}
}

func asDomainError(t *testing.T, err error) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr
}

func TestUpdatePostForbiddenForNonOwner(t *testing.T) {
	fake := &fakeStore{
		getPostFn: func(_ context.Context, postID int64) (store.Post, error) {
			return store.Post{ID: postID, AccountID: 99, Title: "t", Body: "b"}, nil
		},
		updatePostFn: func(context.Context, int64, string, string, string, string) error {
			t.Fatal("update must not run for a non-owner")
			return nil
		},
	}
	svc := newTestService(fake)

	_, err := svc.UpdatePost(context.Background(), Session{AccountID: 1}, 5, "new title", "new body", "", "", "")
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusForbidden || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d %s", domainErr.Status, domainErr.Code)
	}
}

func TestDeletePostForbiddenForNonOwner(t *testing.T) {
	fake := &fakeStore{
		getPostFn: func(_ context.Context, postID int64) (store.Post, error) {
			return store.Post{ID: postID, AccountID: 99}, nil
		},
		deletePostFn: func(context.Context, int64) error {
			t.Fatal("delete must not run for a non-owner")
			return nil
		},
	}
	svc := newTestService(fake)

	err := svc.DeletePost(context.Background(), Session{AccountID: 1}, 5)
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", domainErr.Status)
	}
}

func TestAnonymousNeverAuthorized(t *testing.T) {
	// AccountID zero means no session; even a zero-valued owner must not match.
	fake := &fakeStore{
		getPostFn: func(_ context.Context, postID int64) (store.Post, error) {
			return store.Post{ID: postID, AccountID: 0}, nil
		},
	}
	svc := newTestService(fake)

	err := svc.DeletePost(context.Background(), Session{AccountID: 0}, 5)
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", domainErr.Status)
	}
}

func TestUpdateCommentChainMismatchIsNotFound(t *testing.T) {
	// The store resolves comments by (postID, commentID); a comment reached
	// through the wrong post yields no rows, never a different error class.
	fake := &fakeStore{
		getCommentFn: func(_ context.Context, postID, commentID int64) (store.Comment, error) {
			return store.Comment{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fake)

	_, err := svc.UpdateComment(context.Background(), Session{AccountID: 1}, 7, 3, "edited")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	status, code, _, _ := mapError(err)
	if status != http.StatusNotFound || code != "NOT_FOUND" {
		t.Fatalf("chain mismatch must map to 404 NOT_FOUND, got %d %s", status, code)
	}
}

func TestCreateReplyRequiresMatchingComment(t *testing.T) {
	inserted := false
	fake := &fakeStore{
		getCommentFn: func(context.Context, int64, int64) (store.Comment, error) {
			return store.Comment{}, sql.ErrNoRows
		},
		insertReplyFn: func(_ context.Context, reply store.Reply) (store.Reply, error) {
			inserted = true
			return reply, nil
		},
	}
	svc := newTestService(fake)

	_, err := svc.CreateReply(context.Background(), Session{AccountID: 1}, 7, 3, "hi")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	if inserted {
		t.Fatal("reply inserted under a mismatched comment")
	}
}

func TestUpdateReplyForbiddenForNonOwner(t *testing.T) {
	fake := &fakeStore{
		getReplyFn: func(_ context.Context, postID, commentID, replyID int64) (store.Reply, error) {
			return store.Reply{ID: replyID, PostID: postID, CommentID: commentID, AccountID: 42}, nil
		},
	}
	svc := newTestService(fake)

	_, err := svc.UpdateReply(context.Background(), Session{AccountID: 1}, 7, 3, 9, "edited")
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", domainErr.Status)
	}
}

func TestCreatePostNormalizesTags(t *testing.T) {
	var ensured []string
	attached := 0
	fake := &fakeStore{
		ensureTagFn: func(_ context.Context, name string) (store.Tag, error) {
			ensured = append(ensured, name)
			return store.Tag{ID: int64(len(ensured)), Name: name}, nil
		},
		attachTagFn: func(context.Context, int64, int64) error {
			attached++
			return nil
		},
		listPostTagsFn: func(context.Context, int64) ([]store.Tag, error) {
			return []store.Tag{{ID: 1, Name: "golang"}, {ID: 2, Name: "postgres"}}, nil
		},
	}
	svc := newTestService(fake)

	payload, err := svc.CreatePost(context.Background(), Session{AccountID: 1, Nickname: "Hong"}, "title", "body", "golang, postgres ,golang", "", "")
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if len(ensured) != 2 || ensured[0] != "golang" || ensured[1] != "postgres" {
		t.Fatalf("expected deduplicated trimmed tags, got %v", ensured)
	}
	if attached != 2 {
		t.Fatalf("expected 2 attachments, got %d", attached)
	}
	tags, _ := payload["tags"].([]string)
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags in payload, got %v", payload["tags"])
	}
}

func TestUpdatePostTagsAreAdditive(t *testing.T) {
	// An edit with a new tag line attaches the new tags and detaches nothing.
	var attachedIDs []int64
	fake := &fakeStore{
		getPostFn: func(_ context.Context, postID int64) (store.Post, error) {
			return store.Post{ID: postID, AccountID: 1, Title: "t", Body: "b"}, nil
		},
		ensureTagFn: func(_ context.Context, name string) (store.Tag, error) {
			return store.Tag{ID: 2, Name: name}, nil
		},
		attachTagFn: func(_ context.Context, postID, tagID int64) error {
			attachedIDs = append(attachedIDs, tagID)
			return nil
		},
		listPostTagsFn: func(context.Context, int64) ([]store.Tag, error) {
			return []store.Tag{{ID: 1, Name: "old"}, {ID: 2, Name: "new"}}, nil
		},
	}
	svc := newTestService(fake)

	payload, err := svc.UpdatePost(context.Background(), Session{AccountID: 1}, 5, "t2", "b2", "new", "", "")
	if err != nil {
		t.Fatalf("UpdatePost() error = %v", err)
	}
	if len(attachedIDs) != 1 || attachedIDs[0] != 2 {
		t.Fatalf("expected only the new tag attached, got %v", attachedIDs)
	}
	tags, _ := payload["tags"].([]string)
	if len(tags) != 2 {
		t.Fatalf("existing associations must survive the edit, got %v", payload["tags"])
	}
}

func TestGetPostDetailIncrementsViews(t *testing.T) {
	fake := &fakeStore{
		getPostFn: func(_ context.Context, postID int64) (store.Post, error) {
			return store.Post{ID: postID, AccountID: 1, Title: "t", Body: "b", ViewCount: 3}, nil
		},
		incrementViewFn: func(context.Context, int64) (int64, error) {
			return 4, nil
		},
		listCommentsFn: func(context.Context, int64) ([]store.Comment, error) {
			return []store.Comment{{ID: 1, PostID: 5, AccountID: 2, Author: "a", Message: "m"}}, nil
		},
		listRepliesFn: func(context.Context, int64) ([]store.Reply, error) {
			return []store.Reply{{ID: 1, PostID: 5, CommentID: 1, AccountID: 3, Author: "b", Message: "r"}}, nil
		},
	}
	svc := newTestService(fake)

	payload, err := svc.GetPostDetail(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetPostDetail() error = %v", err)
	}
	if payload["viewCount"] != int64(4) {
		t.Fatalf("expected viewCount 4, got %v", payload["viewCount"])
	}
	comments, _ := payload["comments"].([]map[string]any)
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %v", payload["comments"])
	}
	replies, _ := comments[0]["replies"].([]map[string]any)
	if len(replies) != 1 {
		t.Fatalf("expected reply nested under its comment, got %v", comments[0]["replies"])
	}
}

func TestChangePasswordRevokesSessionsAndReissues(t *testing.T) {
	currentHash, _ := bcrypt.GenerateFromPassword([]byte("current-pass"), bcrypt.MinCost)
	revoked := false
	saved := 0
	fake := &fakeStore{
		getByIDFn: func(_ context.Context, accountID int64) (store.Account, error) {
			return store.Account{ID: accountID, Username: "u", Nickname: "n", PasswordHash: string(currentHash)}, nil
		},
		revokeSessionsFn: func(_ context.Context, accountID int64) error {
			revoked = true
			return nil
		},
		saveRefreshFn: func(context.Context, string, store.Account, time.Time) error {
			saved++
			return nil
		},
	}
	svc := newTestService(fake)

	fresh, err := svc.ChangePassword(context.Background(), Session{AccountID: 8}, "current-pass", "NewSecure99")
	if err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if !revoked {
		t.Fatal("expected all refresh sessions to be revoked")
	}
	if saved != 1 || fresh.Token == "" || fresh.RefreshToken == "" {
		t.Fatal("expected a fresh session to be issued after the change")
	}
}

func TestChangePasswordWrongCurrentIsValidationError(t *testing.T) {
	currentHash, _ := bcrypt.GenerateFromPassword([]byte("real"), bcrypt.MinCost)
	fake := &fakeStore{
		getByIDFn: func(_ context.Context, accountID int64) (store.Account, error) {
			return store.Account{ID: accountID, PasswordHash: string(currentHash)}, nil
		},
		revokeSessionsFn: func(context.Context, int64) error {
			t.Fatal("sessions must survive a failed password change")
			return nil
		},
	}
	svc := newTestService(fake)

	_, err := svc.ChangePassword(context.Background(), Session{AccountID: 8}, "wrong", "NewSecure99")
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusUnprocessableEntity || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %s", domainErr.Status, domainErr.Code)
	}
}

func TestDeleteAccountForbiddenForOtherAccount(t *testing.T) {
	fake := &fakeStore{
		deleteAccountFn: func(context.Context, int64) error {
			t.Fatal("delete must not run for another account")
			return nil
		},
	}
	svc := newTestService(fake)

	err := svc.DeleteAccount(context.Background(), Session{AccountID: 1}, 2, "whatever")
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", domainErr.Status)
	}
}

func TestDeleteAccountRevokesSessions(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("confirm-me"), bcrypt.MinCost)
	revoked := false
	deleted := false
	fake := &fakeStore{
		getByIDFn: func(_ context.Context, accountID int64) (store.Account, error) {
			return store.Account{ID: accountID, PasswordHash: string(hash)}, nil
		},
		deleteAccountFn: func(context.Context, int64) error {
			deleted = true
			return nil
		},
		revokeSessionsFn: func(context.Context, int64) error {
			revoked = true
			return nil
		},
	}
	svc := newTestService(fake)

	if err := svc.DeleteAccount(context.Background(), Session{AccountID: 4}, 4, "confirm-me"); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	if !deleted || !revoked {
		t.Fatalf("expected deletion and session revocation, got deleted=%v revoked=%v", deleted, revoked)
	}
}

func TestSignUpDuplicateUsernameMapsToConflict(t *testing.T) {
	fake := &fakeStore{
		createAccountFn: func(context.Context, string, string, string) (store.Account, error) {
			return store.Account{}, store.ErrDuplicate
		},
	}
	svc := newTestService(fake)

	_, err := svc.SignUp(context.Background(), authpw.SignUpRequest{Username: "a", Password: "longenough", Nickname: "n"})
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusConflict || domainErr.Code != "CONFLICT" {
		t.Fatalf("expected 409 CONFLICT, got %d %s", domainErr.Status, domainErr.Code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	var revokedHash string
	fake := &fakeStore{
		lookupRefreshFn: func(_ context.Context, tokenHash string) (store.Account, error) {
			return store.Account{ID: 3, Username: "u", Nickname: "n"}, nil
		},
		revokeRefreshFn: func(_ context.Context, tokenHash string) error {
			revokedHash = tokenHash
			return nil
		},
	}
	svc := newTestService(fake)

	session, err := svc.Refresh(context.Background(), "old-refresh-token")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if revokedHash == "" {
		t.Fatal("old refresh token must be revoked on rotation")
	}
	if session.RefreshToken == "" || session.RefreshToken == "old-refresh-token" {
		t.Fatal("expected a rotated refresh token")
	}
}
