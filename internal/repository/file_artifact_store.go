package repository

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pdf-workbench/internal/domain"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const (
	stagingDirName = ".staging"
	// degradedThreshold is the number of consecutive storage failures after
	// which the store reports itself degraded.
	degradedThreshold = 3
)

// FileArtifactStore keeps artifact bytes in two directories under root and the
// id-to-file table in memory. The table is authoritative and starts empty.
type FileArtifactStore struct {
	dirs    map[domain.Bucket]string
	staging string
	logger  domain.Logger

	now      func() time.Time
	newToken func() string

	mu     sync.RWMutex
	byID   map[string]*domain.Artifact
	byName map[string]string

	failures atomic.Int32
}

// NewFileArtifactStore creates the bucket directories under root.
func NewFileArtifactStore(root string, logger domain.Logger) (*FileArtifactStore, error) {
	s := &FileArtifactStore{
		dirs: map[domain.Bucket]string{
			domain.BucketIncoming:  filepath.Join(root, string(domain.BucketIncoming)),
			domain.BucketGenerated: filepath.Join(root, string(domain.BucketGenerated)),
		},
		staging:  filepath.Join(root, string(domain.BucketGenerated), stagingDirName),
		logger:   logger,
		now:      time.Now,
		newToken: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		byID:     make(map[string]*domain.Artifact),
		byName:   make(map[string]string),
	}

	for _, dir := range []string{s.dirs[domain.BucketIncoming], s.dirs[domain.BucketGenerated], s.staging} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create %s: %v", domain.ErrStorage, dir, err)
		}
	}

	return s, nil
}

// Create streams src into a new stored file.
func (s *FileArtifactStore) Create(draft domain.NewArtifact, src io.Reader) (*domain.Artifact, error) {
	artifact, path, err := s.reserve(draft)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		s.release(artifact.StoredName)
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNameCollision, artifact.StoredName)
		}
		return nil, s.storageFailure("create", artifact.StoredName, err)
	}

	hasher := blake3.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		s.release(artifact.StoredName)
		return nil, s.storageFailure("write", artifact.StoredName, err)
	}

	artifact.Size = size
	artifact.Checksum = hex.EncodeToString(hasher.Sum(nil))
	return s.commit(artifact), nil
}

// StagingPath returns a fresh scratch file path in the generated bucket's filesystem.
func (s *FileArtifactStore) StagingPath(ext string) (string, error) {
	return filepath.Join(s.staging, "stage_"+s.newToken()+"."+sanitizeExt(ext)), nil
}

// StagingDir creates a fresh scratch directory.
func (s *FileArtifactStore) StagingDir() (string, error) {
	dir, err := os.MkdirTemp(s.staging, "stage_")
	if err != nil {
		return "", s.storageFailure("mkdir", s.staging, err)
	}
	return dir, nil
}

// CreateFromFile adopts a staged file as a new artifact. The staged file is
// consumed on success and removed on failure.
func (s *FileArtifactStore) CreateFromFile(draft domain.NewArtifact, stagedPath string) (*domain.Artifact, error) {
	artifact, path, err := s.reserve(draft)
	if err != nil {
		os.Remove(stagedPath)
		return nil, err
	}

	fail := func(err error) (*domain.Artifact, error) {
		os.Remove(stagedPath)
		s.release(artifact.StoredName)
		return nil, err
	}

	// Claim the name on disk first so a rename can never replace a foreign file.
	placeholder, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fail(fmt.Errorf("%w: %s", domain.ErrNameCollision, artifact.StoredName))
		}
		return fail(s.storageFailure("create", artifact.StoredName, err))
	}
	placeholder.Close()

	if err := os.Rename(stagedPath, path); err != nil {
		os.Remove(path)
		return fail(s.storageFailure("adopt", artifact.StoredName, err))
	}

	size, checksum, err := checksumFile(path)
	if err != nil {
		os.Remove(path)
		s.release(artifact.StoredName)
		return nil, s.storageFailure("checksum", artifact.StoredName, err)
	}

	artifact.Size = size
	artifact.Checksum = checksum
	return s.commit(artifact), nil
}

// Resolve returns a copy of the artifact record and the path of its bytes.
func (s *FileArtifactStore) Resolve(id string) (*domain.Artifact, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", domain.ErrArtifactNotFound, id)
	}
	return a.Clone(), s.pathFor(a), nil
}

// FindByStoredName looks up an artifact by its physical name.
func (s *FileArtifactStore) FindByStoredName(name string) (*domain.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok || id == "" {
		return nil, false
	}
	return s.byID[id].Clone(), true
}

// SetPageCount records a page count resolved after creation.
func (s *FileArtifactStore) SetPageCount(id string, pages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrArtifactNotFound, id)
	}
	a.PageCount = &pages
	return nil
}

// Delete removes the record and its bytes. Unknown ids are a no-op.
func (s *FileArtifactStore) Delete(id string) error {
	s.mu.Lock()
	a, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		delete(s.byName, a.StoredName)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}

	if err := os.Remove(s.pathFor(a)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return s.storageFailure("delete", a.StoredName, err)
	}
	s.logger.Debug("Artifact deleted", "artifact_id", id, "stored_name", a.StoredName)
	return nil
}

// List returns copies of every live artifact.
func (s *FileArtifactStore) List() []*domain.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Artifact, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a.Clone())
	}
	return out
}

// Reconcile deletes files that have no record and were last modified before
// now-grace. Staging leftovers past the grace period go too. It returns the
// number of entries removed.
func (s *FileArtifactStore) Reconcile(grace time.Duration) (int, error) {
	cutoff := s.now().Add(-grace)
	removed := 0
	var errs []error

	for _, bucket := range []domain.Bucket{domain.BucketIncoming, domain.BucketGenerated} {
		entries, err := os.ReadDir(s.dirs[bucket])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if s.known(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(s.dirs[bucket], entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			removed++
			s.logger.Debug("Orphan file removed", "bucket", bucket, "stored_name", entry.Name())
		}
	}

	entries, err := os.ReadDir(s.staging)
	if err != nil {
		errs = append(errs, err)
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.staging, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if len(errs) > 0 {
		return removed, fmt.Errorf("%w: reconcile: %v", domain.ErrStorage, errors.Join(errs...))
	}
	return removed, nil
}

// Degraded reports whether recent storage operations keep failing.
func (s *FileArtifactStore) Degraded() bool {
	return s.failures.Load() >= degradedThreshold
}

// reserve allocates a record and a unique stored name. The name is held in
// the table until commit or release.
func (s *FileArtifactStore) reserve(draft domain.NewArtifact) (*domain.Artifact, string, error) {
	if !draft.Kind.Valid() {
		return nil, "", &domain.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown operation kind %q", draft.Kind)}
	}
	if strings.TrimSpace(draft.SessionID) == "" {
		return nil, "", domain.ErrSessionRequired
	}

	ext := sanitizeExt(draft.Ext)
	name := fmt.Sprintf("%s_%s.%s", draft.Kind.Prefix(), s.newToken(), ext)

	s.mu.Lock()
	if _, taken := s.byName[name]; taken {
		s.mu.Unlock()
		return nil, "", fmt.Errorf("%w: %s", domain.ErrNameCollision, name)
	}
	s.byName[name] = ""
	s.mu.Unlock()

	displayName := strings.TrimSpace(draft.DisplayName)
	if displayName == "" {
		displayName = name
	}

	a := &domain.Artifact{
		ID:               uuid.NewString(),
		StoredName:       name,
		DisplayName:      displayName,
		Kind:             draft.Kind,
		Bucket:           draft.Kind.Bucket(),
		PageCount:        draft.PageCount,
		ContentType:      contentTypeFor(ext),
		CreatedAt:        s.now().UTC(),
		SessionID:        draft.SessionID,
		SourceArtifactID: draft.SourceArtifactID,
	}
	return a, filepath.Join(s.dirs[a.Bucket], name), nil
}

func (s *FileArtifactStore) release(name string) {
	s.mu.Lock()
	if s.byName[name] == "" {
		delete(s.byName, name)
	}
	s.mu.Unlock()
}

func (s *FileArtifactStore) commit(a *domain.Artifact) *domain.Artifact {
	s.mu.Lock()
	s.byID[a.ID] = a
	s.byName[a.StoredName] = a.ID
	s.mu.Unlock()

	s.failures.Store(0)
	return a.Clone()
}

func (s *FileArtifactStore) known(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[name]
	return ok
}

func (s *FileArtifactStore) pathFor(a *domain.Artifact) string {
	return filepath.Join(s.dirs[a.Bucket], a.StoredName)
}

func (s *FileArtifactStore) storageFailure(op, name string, err error) error {
	n := s.failures.Add(1)
	s.logger.Error("Storage operation failed", err, "op", op, "stored_name", name, "consecutive_failures", n)
	return fmt.Errorf("%w: %s %s: %v", domain.ErrStorage, op, name, err)
}

func checksumFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	hasher := blake3.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return 0, "", err
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// sanitizeExt lowercases ext and strips anything that is not alphanumeric.
func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.Len() > 8 {
		return "bin"
	}
	return b.String()
}

func contentTypeFor(ext string) string {
	switch ext {
	case "pdf":
		return "application/pdf"
	case "zip":
		return "application/zip"
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
