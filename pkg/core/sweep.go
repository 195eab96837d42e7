package core

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/adahealth/munkipipe/pkg/model"
	"github.com/adahealth/munkipipe/pkg/storage"
	"github.com/adahealth/munkipipe/pkg/storage/status"
	"go.uber.org/zap"
)

var (
	// ErrSweepLocked is returned when another sweep holds the lock
	ErrSweepLocked = errors.New("a sweep lock exists")

	// ErrSweepIndex is returned when the referenced artifacts could not be indexed.
	// Nothing is deleted in that case.
	ErrSweepIndex = errors.New("could not index referenced artifacts")
)

// SweepState is the stage reached by a sweep
type SweepState string

// Sweep states
const (
	SweepScanning SweepState = "scanning"
	SweepDeleting SweepState = "deleting"
	SweepDone     SweepState = "done"
)

// SweepDescriptor summarizes a retention sweep
type SweepDescriptor struct {
	State SweepState
	// Now is the time the grace period is measured from
	Now          time.Time
	Grace        time.Duration
	DryRun       bool
	Scanned      int
	Referenced   int
	Artifacts    int
	TooRecent    int
	Deleted      int
	DeletedBytes int64
	Failed       int
	// Candidates lists the unreferenced artifacts old enough to be deleted
	Candidates []storage.Attributes
	// DeletedKeys lists the artifacts actually deleted
	DeletedKeys []string
}

// SweepLock sets a sweep lock on the store
func SweepLock(ctx context.Context, store storage.Store, opts ...SweepOption) error {
	options := defaultSweepOptions(opts)
	r := new(bytes.Buffer)
	fmt.Fprintf(r, "locked_at: %q\n", options.now().UTC().Format(time.RFC3339))

	exclusive := storage.NoOverWrite
	if options.force {
		exclusive = storage.OverWrite
	}
	err := store.Put(ctx, model.SweepLock(), r, exclusive)
	if err != nil {
		if errors.Is(err, status.ErrExists) {
			return ErrSweepLocked.Wrapf("[%s]: %v", model.SweepLock(), store)
		}
		return err
	}
	return nil
}

// SweepUnlock removes the sweep lock from the store
func SweepUnlock(ctx context.Context, store storage.Store) error {
	err := store.Delete(ctx, model.SweepLock())
	if err != nil && !errors.Is(err, status.ErrNotExists) {
		return err
	}
	return nil
}

// Sweep deletes the artifacts referenced by no manifest entry and older than the grace period.
//
// All manifest entries are indexed first: if any of them cannot be read, the sweep stops before
// deleting anything. A failed deletion is counted and never stops the others.
//
// The store is meant to be the working tree of trunk: the object store mirrors trunk, and gets
// the deletions once they are submitted for review and merged (see Publisher.PublishSweep).
func Sweep(ctx context.Context, store storage.Store, opts ...SweepOption) (SweepDescriptor, error) {
	options := defaultSweepOptions(opts)
	desc := SweepDescriptor{State: SweepScanning, DryRun: options.dryRun, Now: options.now(), Grace: options.grace}
	logger := options.l.With(zap.Stringer("store", store), zap.Bool("dry_run", options.dryRun))

	if !options.dryRun {
		if err := SweepLock(ctx, store, opts...); err != nil {
			return desc, err
		}
		defer func() {
			if err := SweepUnlock(ctx, store); err != nil {
				logger.Warn("could not remove sweep lock", zap.Error(err))
			}
		}()
	}

	index, err := openReferenceIndex(options.indexPath)
	if err != nil {
		return desc, ErrSweepIndex.Wrap(err)
	}
	defer func() {
		_ = index.Close()
	}()
	if err = index.Reset(); err != nil {
		return desc, ErrSweepIndex.Wrap(err)
	}

	logger.Info("indexing referenced artifacts")
	if err = indexReferences(ctx, store, index, &desc); err != nil {
		return desc, ErrSweepIndex.Wrap(err)
	}
	if desc.Referenced, err = index.Len(); err != nil {
		return desc, ErrSweepIndex.Wrap(err)
	}
	logger.Info("done indexing referenced artifacts",
		zap.Int("manifest_entries", desc.Scanned),
		zap.Int("referenced", desc.Referenced),
	)

	desc.State = SweepDeleting
	artifacts, err := store.List(ctx, model.PkgsPrefix())
	if err != nil {
		return desc, err
	}
	cutoff := desc.Now.Add(-options.grace)

	for _, artifact := range artifacts {
		if err = ctx.Err(); err != nil {
			return desc, err
		}
		if hidden(artifact.Key) {
			continue
		}
		desc.Artifacts++
		referrer, referenced, erx := index.Referrer(artifact.Key)
		if erx != nil {
			return desc, ErrSweepIndex.Wrap(erx)
		}
		if referenced {
			logger.Debug("artifact referenced", zap.String("key", artifact.Key), zap.String("pkginfo", referrer))
			options.metrics.SweepArtifacts.WithLabelValues("referenced").Inc()
			continue
		}
		if options.dater != nil {
			changed, erc := options.dater.LastChanged(ctx, artifact.Key)
			if erc != nil {
				logger.Warn("could not date artifact: kept", zap.String("key", artifact.Key), zap.Error(erc))
				desc.TooRecent++
				options.metrics.SweepArtifacts.WithLabelValues("too_recent").Inc()
				continue
			}
			if !changed.IsZero() {
				artifact.Updated = changed
			}
		}
		if artifact.Updated.After(cutoff) {
			logger.Debug("unreferenced artifact within grace period", zap.String("key", artifact.Key), zap.Time("updated", artifact.Updated))
			desc.TooRecent++
			options.metrics.SweepArtifacts.WithLabelValues("too_recent").Inc()
			continue
		}

		desc.Candidates = append(desc.Candidates, artifact)
		if options.dryRun {
			logger.Info("would delete unreferenced artifact", zap.String("key", artifact.Key), zap.Int64("size", artifact.Size))
			continue
		}
		if erd := store.Delete(ctx, artifact.Key); erd != nil {
			logger.Error("could not delete unreferenced artifact", zap.String("key", artifact.Key), zap.Error(erd))
			desc.Failed++
			options.metrics.SweepArtifacts.WithLabelValues("failed").Inc()
			continue
		}
		logger.Info("deleted unreferenced artifact", zap.String("key", artifact.Key), zap.Int64("size", artifact.Size))
		desc.Deleted++
		desc.DeletedKeys = append(desc.DeletedKeys, artifact.Key)
		desc.DeletedBytes += artifact.Size
		options.metrics.SweepArtifacts.WithLabelValues("deleted").Inc()
		options.metrics.SweepBytes.Add(float64(artifact.Size))
	}

	desc.State = SweepDone
	logger.Info("sweep complete",
		zap.Int("artifacts", desc.Artifacts),
		zap.Int("referenced", desc.Referenced),
		zap.Int("too_recent", desc.TooRecent),
		zap.Int("candidates", len(desc.Candidates)),
		zap.Int("deleted", desc.Deleted),
		zap.Int64("deleted_bytes", desc.DeletedBytes),
		zap.Int("failed", desc.Failed),
	)
	return desc, nil
}

func indexReferences(ctx context.Context, store storage.Store, index *referenceIndex, desc *SweepDescriptor) error {
	keys, err := store.Keys(ctx, model.PkgsInfoPrefix())
	if err != nil {
		return err
	}
	for _, key := range keys {
		if hidden(key) {
			continue
		}
		info, err := readPkgInfo(ctx, store, key)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		desc.Scanned++
		for _, artifact := range info.ArtifactKeys() {
			if err = index.Add(artifact, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// hidden tells if the base name of a key is a dot file, such as .DS_Store or .gitkeep
func hidden(key string) bool {
	return strings.HasPrefix(path.Base(key), ".")
}

func readPkgInfo(ctx context.Context, store storage.Store, key string) (model.PkgInfo, error) {
	r, err := store.Get(ctx, key)
	if err != nil {
		return model.PkgInfo{}, err
	}
	defer func() {
		_ = r.Close()
	}()
	return model.DecodePkgInfo(r)
}
