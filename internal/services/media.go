package services

import (
	"context"
	"fmt"
	"io"

	"github.com/realtimebid/auctionserver/internal/storage"
)

// MediaService uploads car photos for an auction to the configured
// object storage backend. It is ambient/CRUD-adjacent infrastructure,
// not part of the bid pipeline core, but exercises the storage stack
// carried over from the teacher.
type MediaService struct {
	storage *storage.Storage
}

func NewMediaService(storage *storage.Storage) *MediaService {
	return &MediaService{storage: storage}
}

// Upload stores a car photo under a key namespaced by auction id so
// listing an auction's media is a prefix query against the bucket.
func (s *MediaService) Upload(ctx context.Context, auctionID int, filename string, r io.Reader, size int64, contentType string) (string, error) {
	key := fmt.Sprintf("auction/%d/%s", auctionID, filename)
	if err := s.storage.Put(ctx, key, r, size, contentType); err != nil {
		return "", err
	}
	return key, nil
}

func (s *MediaService) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.storage.Get(ctx, key)
}

func (s *MediaService) Delete(ctx context.Context, key string) error {
	return s.storage.Delete(ctx, key)
}
