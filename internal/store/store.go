package store

import (
	"context"
	"errors"

	"github.com/joescharf/council/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ReviewListFilter specifies filters for listing review sessions.
type ReviewListFilter struct {
	DocumentPath string
	Limit        int
}

// Store defines the persistence interface for council.
type Store interface {
	// Reviewers
	ListReviewers(ctx context.Context) ([]*models.Reviewer, error)
	GetReviewer(ctx context.Context, id string) (*models.Reviewer, error)
	SaveReviewer(ctx context.Context, r *models.Reviewer) error
	SetReviewerEnabled(ctx context.Context, id string, enabled bool) error
	SeedReviewers(ctx context.Context, reviewers []*models.Reviewer) (int, error)

	// Reviews
	SaveReview(ctx context.Context, session *models.ReviewSession, doc *models.ReviewDocument) error
	GetReview(ctx context.Context, id string) (*models.ReviewSession, *models.ReviewDocument, error)
	ListReviewSessions(ctx context.Context, filter ReviewListFilter) ([]*models.ReviewSession, error)
	UpdateFindingStatus(ctx context.Context, findingID string, status models.FindingStatus) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
