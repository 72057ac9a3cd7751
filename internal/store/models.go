package store

import "time"

type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	Nickname     string
	CreatedAt    time.Time
}

// OwnerID lets the ownership guard treat an account as a self-owned resource:
// only the account itself may delete it.
func (a Account) OwnerID() int64 { return a.ID }

type Profile struct {
	ID        int64
	AccountID int64
	Nickname  string
}

func (p Profile) OwnerID() int64 { return p.AccountID }

type Post struct {
	ID        int64
	AccountID int64
	Author    string
	Title     string
	Body      string
	ThumbRef  string
	FileRef   string
	ViewCount int64
	Tags      []Tag
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Post) OwnerID() int64 { return p.AccountID }

type Tag struct {
	ID   int64
	Name string
}

type Comment struct {
	ID        int64
	PostID    int64
	AccountID int64
	Author    string
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c Comment) OwnerID() int64 { return c.AccountID }

// Reply carries both its comment and (redundantly) that comment's post.
// The store only ever returns replies whose two links agree.
type Reply struct {
	ID        int64
	PostID    int64
	CommentID int64
	AccountID int64
	Author    string
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Reply) OwnerID() int64 { return r.AccountID }
