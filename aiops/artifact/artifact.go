/*
 *     Copyright 2023 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:generate mockgen -destination mocks/artifact_mock.go -source artifact.go -package mocks

package artifact

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang/groupcache/lru"

	"d7y.io/aiops/aiops/metrics"
	"d7y.io/aiops/internal/dferrors"
	logger "d7y.io/aiops/internal/dflog"
	"d7y.io/aiops/pkg/digest"
)

const (
	// BlobsDir is the directory of artifact bytes.
	BlobsDir = "blobs"

	// ManifestsDir is the directory of artifact manifests.
	ManifestsDir = "manifests"

	// LockFile guards writers across processes.
	LockFile = ".lock"

	// DefaultCacheSize is the default number of cached artifacts.
	DefaultCacheSize = 16

	lockRetryDelay = 10 * time.Millisecond
)

// Manifest describes an artifact.
type Manifest struct {
	// Digest is the content digest, set by Put.
	Digest string `json:"digest"`

	// Size is the byte length, set by Put.
	Size int64 `json:"size"`

	// Format tags the serialization format.
	Format string `json:"format"`

	// ModelKind is the kind of the serialized model.
	ModelKind string `json:"model_kind"`

	// SchemaDigest is the digest of the feature and output schema.
	SchemaDigest string `json:"schema_digest"`

	// LibraryVersion tags the code that produced the artifact.
	LibraryVersion string `json:"library_version"`

	// CreatedAt is the creation time.
	CreatedAt time.Time `json:"created_at"`
}

// ReferenceChecker reports whether a digest is still referenced.
type ReferenceChecker interface {
	IsReferenced(ctx context.Context, digest string) (bool, error)
}

// Store is the interface used for artifact storage.
type Store interface {
	// Put stores data and its manifest and returns the digest, repeated calls are no-ops.
	Put(ctx context.Context, data []byte, manifest Manifest) (string, error)

	// Get returns the bytes and manifest of digest.
	Get(ctx context.Context, digest string) ([]byte, *Manifest, error)

	// Stat returns the manifest of digest.
	Stat(ctx context.Context, digest string) (*Manifest, error)

	// Delete removes digest unless it is referenced.
	Delete(ctx context.Context, digest string) error
}

type cacheEntry struct {
	data     []byte
	manifest *Manifest
	modTime  time.Time
	size     int64
}

type store struct {
	baseDir string
	checker ReferenceChecker

	cacheMu sync.Mutex
	cache   *lru.Cache
}

// Option is a functional option for configuring the store.
type Option func(s *store)

// WithReferenceChecker guards Delete with checker.
func WithReferenceChecker(checker ReferenceChecker) Option {
	return func(s *store) {
		s.checker = checker
	}
}

// WithCacheSize sets the number of cached artifacts.
func WithCacheSize(size int) Option {
	return func(s *store) {
		s.cache = lru.New(size)
	}
}

// New returns a new artifact store under baseDir.
func New(baseDir string, options ...Option) (Store, error) {
	s := &store{
		baseDir: baseDir,
		cache:   lru.New(DefaultCacheSize),
	}

	for _, opt := range options {
		opt(s)
	}

	for _, dir := range []string{BlobsDir, ManifestsDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0700); err != nil {
			return nil, dferrors.Wrap(dferrors.KindArtifactUnavailable, err, "create artifact directory")
		}
	}

	return s, nil
}

// Put stores data and its manifest and returns the digest.
func (s *store) Put(ctx context.Context, data []byte, manifest Manifest) (string, error) {
	d := digest.FromBytes(data)
	log := logger.WithDigest(d)

	unlock, err := s.lock(ctx, false)
	if err != nil {
		return "", err
	}
	defer unlock()

	if s.exists(d) {
		log.Debugf("artifact already exists")
		return d, nil
	}

	manifest.Digest = d
	manifest.Size = int64(len(data))
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}

	rawManifest, err := json.Marshal(manifest)
	if err != nil {
		return "", dferrors.Wrap(dferrors.KindInvalidArgument, err, "encode manifest")
	}

	// The manifest is written last, so a blob without a manifest is not visible.
	if err := writeFileAtomic(s.blobFilename(d), data); err != nil {
		return "", dferrors.Wrap(dferrors.KindArtifactUnavailable, err, "write blob")
	}

	if err := writeFileAtomic(s.manifestFilename(d), rawManifest); err != nil {
		os.Remove(s.blobFilename(d))
		return "", dferrors.Wrap(dferrors.KindArtifactUnavailable, err, "write manifest")
	}

	log.Infof("put artifact of %d bytes", len(data))
	return d, nil
}

// Get returns the bytes and manifest of digest, verifying the bytes against it.
func (s *store) Get(ctx context.Context, d string) ([]byte, *Manifest, error) {
	if err := digest.Validate(d); err != nil {
		return nil, nil, dferrors.Wrapf(dferrors.KindInvalidArgument, err, "invalid digest %s", d)
	}

	unlock, err := s.lock(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	info, err := os.Stat(s.blobFilename(d))
	if err != nil {
		s.evict(d)
		if os.IsNotExist(err) {
			return nil, nil, dferrors.Newf(dferrors.KindNotFound, "artifact %s not found", d)
		}

		return nil, nil, dferrors.Wrap(dferrors.KindArtifactUnavailable, err, "stat blob")
	}

	// Cached bytes are served only while the backing file is unchanged.
	if entry, ok := s.cached(d); ok && entry.size == info.Size() && entry.modTime.Equal(info.ModTime()) {
		return entry.data, entry.manifest, nil
	}

	data, err := os.ReadFile(s.blobFilename(d))
	if err != nil {
		return nil, nil, dferrors.Wrap(dferrors.KindArtifactUnavailable, err, "read blob")
	}

	if err := digest.Verify(d, data); err != nil {
		s.evict(d)
		metrics.ArtifactLoadFailureCount.WithLabelValues(string(dferrors.KindDigestMismatch)).Inc()
		logger.WithDigest(d).Errorf("artifact is corrupted: %s", err.Error())
		return nil, nil, dferrors.Wrapf(dferrors.KindDigestMismatch, err, "artifact %s is corrupted", d)
	}

	manifest, err := s.readManifest(d)
	if err != nil {
		return nil, nil, err
	}

	s.cacheMu.Lock()
	s.cache.Add(d, &cacheEntry{
		data:     data,
		manifest: manifest,
		modTime:  info.ModTime(),
		size:     info.Size(),
	})
	s.cacheMu.Unlock()

	return data, manifest, nil
}

// Stat returns the manifest of digest.
func (s *store) Stat(ctx context.Context, d string) (*Manifest, error) {
	if err := digest.Validate(d); err != nil {
		return nil, dferrors.Wrapf(dferrors.KindInvalidArgument, err, "invalid digest %s", d)
	}

	if err := dferrors.FromContext(ctx); err != nil {
		return nil, err
	}

	if _, err := os.Stat(s.blobFilename(d)); err != nil {
		if os.IsNotExist(err) {
			return nil, dferrors.Newf(dferrors.KindNotFound, "artifact %s not found", d)
		}

		return nil, dferrors.Wrap(dferrors.KindArtifactUnavailable, err, "stat blob")
	}

	return s.readManifest(d)
}

// Delete removes digest unless a model version references it.
func (s *store) Delete(ctx context.Context, d string) error {
	if err := digest.Validate(d); err != nil {
		return dferrors.Wrapf(dferrors.KindInvalidArgument, err, "invalid digest %s", d)
	}

	unlock, err := s.lock(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	if !s.exists(d) {
		return dferrors.Newf(dferrors.KindNotFound, "artifact %s not found", d)
	}

	// References are checked under the lock, so no Put of d interleaves.
	if s.checker != nil {
		referenced, err := s.checker.IsReferenced(ctx, d)
		if err != nil {
			return err
		}

		if referenced {
			return dferrors.Newf(dferrors.KindInUse, "artifact %s is referenced by a model version", d)
		}
	}

	s.evict(d)
	if err := os.Remove(s.manifestFilename(d)); err != nil && !os.IsNotExist(err) {
		return dferrors.Wrap(dferrors.KindArtifactUnavailable, err, "remove manifest")
	}

	if err := os.Remove(s.blobFilename(d)); err != nil && !os.IsNotExist(err) {
		return dferrors.Wrap(dferrors.KindArtifactUnavailable, err, "remove blob")
	}

	logger.WithDigest(d).Infof("artifact deleted")
	return nil
}

// lock takes the cross-process lock file, shared for readers.
func (s *store) lock(ctx context.Context, shared bool) (func(), error) {
	fl := flock.New(filepath.Join(s.baseDir, LockFile))

	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = fl.TryRLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = fl.TryLockContext(ctx, lockRetryDelay)
	}

	if err != nil {
		if ctxErr := dferrors.FromContext(ctx); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, dferrors.Wrap(dferrors.KindArtifactUnavailable, err, "lock artifact store")
	}

	if !ok {
		return nil, dferrors.New(dferrors.KindArtifactUnavailable, "artifact store is locked")
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			logger.Warnf("unlock artifact store failed: %s", err.Error())
		}
	}, nil
}

func (s *store) exists(d string) bool {
	if _, err := os.Stat(s.blobFilename(d)); err != nil {
		return false
	}

	if _, err := os.Stat(s.manifestFilename(d)); err != nil {
		return false
	}

	return true
}

func (s *store) readManifest(d string) (*Manifest, error) {
	raw, err := os.ReadFile(s.manifestFilename(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dferrors.Newf(dferrors.KindNotFound, "manifest of %s not found", d)
		}

		return nil, dferrors.Wrap(dferrors.KindArtifactUnavailable, err, "read manifest")
	}

	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, dferrors.Wrapf(dferrors.KindIncompatibleArtifact, err, "manifest of %s is malformed", d)
	}

	return &manifest, nil
}

func (s *store) cached(d string) (*cacheEntry, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	value, ok := s.cache.Get(d)
	if !ok {
		return nil, false
	}

	return value.(*cacheEntry), true
}

func (s *store) evict(d string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache.Remove(d)
}

func (s *store) blobFilename(d string) string {
	return filepath.Join(s.baseDir, BlobsDir, digest.Filename(d))
}

func (s *store) manifestFilename(d string) string {
	return filepath.Join(s.baseDir, ManifestsDir, digest.Filename(d)+".json")
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
