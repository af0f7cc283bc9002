package storage

import (
	"context"
	"errors"

	"github.com/shohag/chatrelay/internal/models"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrDuplicateURL = errors.New("storage: duplicate url")
)

// EndpointStore holds registered webhook endpoints. Insert must reject a
// duplicate URL atomically.
type EndpointStore interface {
	Insert(ctx context.Context, ep *models.Endpoint) error
	Get(ctx context.Context, id string) (*models.Endpoint, error)
	Delete(ctx context.Context, id string) (*models.Endpoint, error)
	List(ctx context.Context) ([]models.Endpoint, error)
	Close() error
}

// Journal records outbound webhook attempts.
type Journal interface {
	CreateAttempt(ctx context.Context, a *models.Attempt) error
	ListAttempts(ctx context.Context, endpointID string, limit int) ([]models.Attempt, error)

	Migrate(ctx context.Context) error
	Close() error
}

// NopJournal discards attempts.
type NopJournal struct{}

func (NopJournal) CreateAttempt(context.Context, *models.Attempt) error { return nil }

func (NopJournal) ListAttempts(context.Context, string, int) ([]models.Attempt, error) {
	return []models.Attempt{}, nil
}

func (NopJournal) Migrate(context.Context) error { return nil }
func (NopJournal) Close() error                  { return nil }
