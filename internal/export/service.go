package export

import (
	"context"
	"fmt"
)

// DataStore supplies the post and its discussion for rendering.
type DataStore interface {
	GetExportPost(ctx context.Context, postID int64) (Post, error)
	ListExportComments(ctx context.Context, postID int64) ([]Comment, error)
}

// Service renders posts into downloadable documents.
type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export renders the post in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	post, err := s.store.GetExportPost(ctx, req.PostID)
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}

	data := TemplateData{
		Title:     post.Title,
		Body:      post.Body,
		Author:    post.Author,
		Tags:      post.Tags,
		UpdatedAt: post.UpdatedAt,
	}

	if req.IncludeComments {
		comments, err := s.store.ListExportComments(ctx, req.PostID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		data.Comments = comments
	}

	html, err := RenderPostHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return renderPDF(html, post.Title)
	case FormatDOCX:
		return renderDOCX(html, post.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
