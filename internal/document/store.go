// Package document loads and saves metadata documents through a blob store.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"metarecon/internal/blob"
	"metarecon/pkg/domain"
)

const contentType = "application/json"

// LoadOptions tunes LoadCollection.
type LoadOptions struct {
	// AllowMissing treats an absent collection key as an empty collection.
	AllowMissing bool
}

// Store reads and writes documents addressed by storage-relative keys such as
// "Program/Program Stage.json".
type Store struct {
	blobs  blob.Store
	logger zerolog.Logger
}

// NewStore wraps blobs. Pass zerolog.Nop() to silence logging.
func NewStore(blobs blob.Store, logger zerolog.Logger) *Store {
	return &Store{blobs: blobs, logger: logger}
}

// Blobs exposes the underlying storage driver.
func (s *Store) Blobs() blob.Store { return s.blobs }

// Load reads and parses the document stored under key. Content that is not a
// JSON object yields a domain.MalformedDocumentError.
func (s *Store) Load(ctx context.Context, key string) (*domain.Document, error) {
	_, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	doc, err := domain.ParseDocument(data)
	if err != nil {
		return nil, domain.MalformedDocumentError{Key: key, Err: err}
	}
	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("document loaded")
	return doc, nil
}

// LoadCollection loads key and decodes one collection from it. The document
// is returned alongside so callers can write the collection back into it.
func (s *Store) LoadCollection(ctx context.Context, key, collection string, opts LoadOptions) (*domain.Document, domain.Collection, error) {
	doc, err := s.Load(ctx, key)
	if err != nil {
		return nil, domain.Collection{}, err
	}
	coll, err := doc.Collection(collection)
	if errors.Is(err, domain.ErrMissingCollection) && opts.AllowMissing {
		s.logger.Debug().Str("key", key).Str("collection", collection).Msg("collection absent, treated as empty")
		return doc, domain.Collection{Key: collection, Envelope: doc.Envelope()}, nil
	}
	if err != nil {
		return nil, domain.Collection{}, domain.MalformedDocumentError{Key: key, Collection: collection, Err: err}
	}
	return doc, coll, nil
}

// Save encodes doc and replaces the stored version atomically.
func (s *Store) Save(ctx context.Context, key string, doc *domain.Document) error {
	data, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	info, err := s.blobs.Replace(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int64("bytes", info.Size).Msg("document saved")
	return nil
}

// SaveCollection writes coll into doc and saves it under key.
func (s *Store) SaveCollection(ctx context.Context, key string, doc *domain.Document, coll domain.Collection) error {
	if doc == nil {
		doc = domain.NewDocument()
	}
	if err := doc.SetCollection(coll); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return s.Save(ctx, key, doc)
}

// List returns the keys of JSON documents under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	infos, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(strings.ToLower(info.Key), ".json") {
			keys = append(keys, info.Key)
		}
	}
	return keys, nil
}

// Exists reports whether key is stored.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.blobs.Head(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
