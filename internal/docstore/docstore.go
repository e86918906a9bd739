// Package docstore persists document records and raw PDF blobs on disk.
//
// The index is a single JSON file guarded by an in-process mutex plus a
// cross-process file lock, so concurrent pipeline services sharing a data
// directory never interleave writes. Blobs live next to the index under
// blobs/, named by document ID.
package docstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	pipeerr "github.com/docpipe/docpipe/internal/errors"
)

const (
	indexFile = "documents.json"
	blobsDir  = "blobs"
	lockFile  = ".index.lock"
)

// DocumentRecord is one tracked source document. Fingerprint is the change
// marker from the last successful ingestion; an unchanged fingerprint means
// re-processing can be skipped.
type DocumentRecord struct {
	DocumentID   string    `json:"documentId"`
	SourceURL    string    `json:"sourceUrl"`
	Title        string    `json:"title"`
	Fingerprint  string    `json:"fingerprint"`
	BlobPath     string    `json:"blobPath,omitempty"`
	DiscoveredAt time.Time `json:"discoveredAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store is a file-backed document index.
type Store struct {
	dir       string
	indexPath string
	flk       *flock.Flock

	mu      sync.Mutex
	records map[string]DocumentRecord
}

// Open loads (or initializes) the document index under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, blobsDir), 0o755); err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeStoreWrite, err)
	}

	s := &Store{
		dir:       dir,
		indexPath: filepath.Join(dir, indexFile),
		flk:       flock.New(filepath.Join(dir, lockFile)),
		records:   make(map[string]DocumentRecord),
	}

	data, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeFileNotFound, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.records); err != nil {
			return nil, pipeerr.New(pipeerr.ErrCodeIndexCorrupt,
				fmt.Sprintf("document index %s is not valid JSON", s.indexPath), err)
		}
	}
	return s, nil
}

// Get returns the record for a document ID.
func (s *Store) Get(documentID string) (DocumentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[documentID]
	return rec, ok
}

// Fingerprint returns the stored fingerprint for a document ID, or "" when
// the document has never been seen.
func (s *Store) Fingerprint(documentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[documentID].Fingerprint
}

// Put upserts a record and persists the index. UpdatedAt is stamped here;
// DiscoveredAt is preserved from the existing record when present.
func (s *Store) Put(rec DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := s.records[rec.DocumentID]; ok && !prev.DiscoveredAt.IsZero() {
		rec.DiscoveredAt = prev.DiscoveredAt
	} else if rec.DiscoveredAt.IsZero() {
		rec.DiscoveredAt = now
	}
	rec.UpdatedAt = now

	s.records[rec.DocumentID] = rec
	return s.persistLocked()
}

// Delete removes a record and its blob, then persists the index. Deleting an
// unknown ID is a no-op.
func (s *Store) Delete(documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[documentID]
	if !ok {
		return nil
	}
	delete(s.records, documentID)
	if rec.BlobPath != "" {
		_ = os.Remove(rec.BlobPath)
	}
	return s.persistLocked()
}

// Records returns all records ordered by document ID.
func (s *Store) Records() []DocumentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DocumentRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// SaveBlob writes the raw document bytes under blobs/<documentID>.pdf and
// returns the blob path. The write is atomic (temp file + rename) so a crash
// never leaves a truncated blob behind.
func (s *Store) SaveBlob(documentID string, data []byte) (string, error) {
	path := filepath.Join(s.dir, blobsDir, documentID+".pdf")

	tmp, err := os.CreateTemp(filepath.Join(s.dir, blobsDir), ".blob-*")
	if err != nil {
		return "", pipeerr.Wrap(pipeerr.ErrCodeStoreWrite, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", pipeerr.Wrap(pipeerr.ErrCodeStoreWrite, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", pipeerr.Wrap(pipeerr.ErrCodeStoreWrite, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", pipeerr.Wrap(pipeerr.ErrCodeStoreWrite, err)
	}
	return path, nil
}

// ReadBlob returns the stored bytes for a document ID.
func (s *Store) ReadBlob(documentID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, blobsDir, documentID+".pdf"))
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeFileNotFound, err)
	}
	return data, nil
}

// persistLocked writes the index atomically under the cross-process lock.
// Callers hold s.mu.
func (s *Store) persistLocked() error {
	if err := s.flk.Lock(); err != nil {
		return pipeerr.New(pipeerr.ErrCodeIndexLock,
			fmt.Sprintf("cannot lock document index in %s", s.dir), err)
	}
	defer func() { _ = s.flk.Unlock() }()

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return pipeerr.Wrap(pipeerr.ErrCodeInternal, err)
	}

	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return pipeerr.Wrap(pipeerr.ErrCodeStoreWrite, err)
	}
	if err := os.Rename(tmp, s.indexPath); err != nil {
		_ = os.Remove(tmp)
		return pipeerr.Wrap(pipeerr.ErrCodeStoreWrite, err)
	}
	return nil
}
