package core

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/adahealth/munkipipe/pkg/notify"
	"github.com/adahealth/munkipipe/pkg/storage"
	"github.com/bmatcuk/doublestar"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSyncList is returned when the source or the destination could not be listed
	ErrSyncList = errors.New("could not list objects")

	// ErrSyncPartial is returned when some operations of a sync failed
	ErrSyncPartial = errors.New("sync partially applied")
)

// SyncOp is the kind of operation applied to a destination key
type SyncOp string

// Sync operations
const (
	SyncAdd    SyncOp = "add"
	SyncUpdate SyncOp = "update"
	SyncDelete SyncOp = "delete"
)

// SyncPlan lists the operations that make the destination mirror the source.
//
// Add and Update hold source attributes, Delete holds destination attributes.
type SyncPlan struct {
	Add    []storage.Attributes
	Update []storage.Attributes
	Delete []storage.Attributes
}

// Len is the number of operations in the plan
func (p SyncPlan) Len() int {
	return len(p.Add) + len(p.Update) + len(p.Delete)
}

// Empty tells if the destination already mirrors the source
func (p SyncPlan) Empty() bool {
	return p.Len() == 0
}

// Bytes is the volume to upload
func (p SyncPlan) Bytes() int64 {
	var n int64
	for _, a := range p.Add {
		n += a.Size
	}
	for _, a := range p.Update {
		n += a.Size
	}
	return n
}

// Keys returns all keys touched by the plan, sorted
func (p SyncPlan) Keys() []string {
	keys := make([]string, 0, p.Len())
	for _, group := range [][]storage.Attributes{p.Add, p.Update, p.Delete} {
		for _, a := range group {
			keys = append(keys, a.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// SyncDescriptor summarizes a sync
type SyncDescriptor struct {
	Plan          SyncPlan
	DryRun        bool
	Uploaded      int
	Deleted       int
	Failed        int
	UploadedBytes int64
	Invalidation  string
}

func excluded(key string, patterns []string) bool {
	for _, part := range strings.Split(key, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	base := path.Base(key)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, key); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func listForSync(ctx context.Context, store storage.Store, excludes []string) (map[string]storage.Attributes, error) {
	attrs, err := store.List(ctx, "")
	if err != nil {
		return nil, ErrSyncList.Wrapf("%v: %v", store, err)
	}
	res := make(map[string]storage.Attributes, len(attrs))
	for _, a := range attrs {
		if excluded(a.Key, excludes) {
			continue
		}
		res[a.Key] = a
	}
	return res, nil
}

func sameContent(src, dst storage.Attributes) bool {
	if src.Size != dst.Size {
		return false
	}
	// an unknown checksum never matches: the object is uploaded again with a known one
	return src.Checksum != "" && src.Checksum == dst.Checksum
}

// PlanSync computes the operations that make dst mirror src
func PlanSync(ctx context.Context, src, dst storage.Store, opts ...SyncOption) (SyncPlan, error) {
	options := defaultSyncOptions(opts)
	return planSync(ctx, src, dst, options)
}

func planSync(ctx context.Context, src, dst storage.Store, options *syncOptions) (SyncPlan, error) {
	var plan SyncPlan
	srcAttrs, err := listForSync(ctx, src, options.excludes)
	if err != nil {
		return plan, err
	}
	dstAttrs, err := listForSync(ctx, dst, options.excludes)
	if err != nil {
		return plan, err
	}

	for key, s := range srcAttrs {
		d, ok := dstAttrs[key]
		switch {
		case !ok:
			plan.Add = append(plan.Add, s)
		case !sameContent(s, d):
			plan.Update = append(plan.Update, s)
		}
	}
	for key, d := range dstAttrs {
		if _, ok := srcAttrs[key]; !ok {
			plan.Delete = append(plan.Delete, d)
		}
	}

	byKey := func(attrs []storage.Attributes) {
		sort.Slice(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })
	}
	byKey(plan.Add)
	byKey(plan.Update)
	byKey(plan.Delete)
	return plan, nil
}

// Sync makes dst mirror src, transferring only the delta.
//
// Operations run concurrently. A failed operation never stops the others: all failures are
// returned together, wrapped as ErrSyncPartial, and are retried by the next sync.
func Sync(ctx context.Context, src, dst storage.Store, opts ...SyncOption) (SyncDescriptor, error) {
	options := defaultSyncOptions(opts)
	logger := options.l.With(zap.Stringer("source", src), zap.Stringer("destination", dst))

	plan, err := planSync(ctx, src, dst, options)
	if err != nil {
		return SyncDescriptor{}, err
	}
	desc := SyncDescriptor{Plan: plan, DryRun: options.dryRun}
	logger.Info("sync plan computed",
		zap.Int("add", len(plan.Add)),
		zap.Int("update", len(plan.Update)),
		zap.Int("delete", len(plan.Delete)),
		zap.Int64("bytes", plan.Bytes()),
		zap.Bool("dry_run", options.dryRun),
	)
	if options.dryRun || plan.Empty() {
		return desc, nil
	}

	var (
		mx   sync.Mutex
		errs error
		eg   errgroup.Group
	)
	eg.SetLimit(options.maxParallel)

	record := func(op SyncOp, attrs storage.Attributes, err error) {
		mx.Lock()
		defer mx.Unlock()
		if err != nil {
			desc.Failed++
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", op, attrs.Key, err))
			options.metrics.SyncOperations.WithLabelValues(string(op), "failed").Inc()
			logger.Error("sync operation failed", zap.String("op", string(op)), zap.String("key", attrs.Key), zap.Error(err))
			return
		}
		options.metrics.SyncOperations.WithLabelValues(string(op), "ok").Inc()
		if op == SyncDelete {
			desc.Deleted++
			logger.Debug("deleted", zap.String("key", attrs.Key))
			return
		}
		desc.Uploaded++
		desc.UploadedBytes += attrs.Size
		options.metrics.SyncBytes.Add(float64(attrs.Size))
		logger.Debug("uploaded", zap.String("key", attrs.Key), zap.Int64("size", attrs.Size))
	}

	for op, uploads := range map[SyncOp][]storage.Attributes{SyncAdd: plan.Add, SyncUpdate: plan.Update} {
		op := op
		for _, attrs := range uploads {
			attrs := attrs
			eg.Go(func() error {
				record(op, attrs, storage.Copy(ctx, src, attrs.Key, dst, attrs.Key))
				return nil
			})
		}
	}
	for _, attrs := range plan.Delete {
		attrs := attrs
		eg.Go(func() error {
			record(SyncDelete, attrs, dst.Delete(ctx, attrs.Key))
			return nil
		})
	}
	_ = eg.Wait()

	if options.invalidator != nil {
		id, eri := options.invalidator.Invalidate(ctx, plan.Keys())
		if eri != nil {
			logger.Warn("could not invalidate CDN cache", zap.Error(eri))
		}
		desc.Invalidation = id
	}

	logger.Info("sync applied",
		zap.Int("uploaded", desc.Uploaded),
		zap.Int("deleted", desc.Deleted),
		zap.Int("failed", desc.Failed),
		zap.Int64("uploaded_bytes", desc.UploadedBytes),
	)

	if errs == nil {
		return desc, nil
	}

	if options.alertOnFailure && options.notifier != nil {
		alert := notify.SyncAlert{
			Target:  dst.String(),
			Applied: desc.Uploaded + desc.Deleted,
			Failed:  desc.Failed,
		}
		for _, e := range multierr.Errors(errs) {
			alert.Errors = append(alert.Errors, e.Error())
		}
		options.notifier.NotifySync(ctx, alert)
	}
	return desc, ErrSyncPartial.Wrap(errs)
}
