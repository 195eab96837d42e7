// Copyright © 2018 One Concern

package storage

import (
	"context"
	"crypto/md5" // #nosec: used as a content fingerprint, comparable with S3 ETags
	"encoding/hex"
	"io"
	"time"
)

const (
	// OverWrite an existing object on Put
	OverWrite = false
	// NoOverWrite fails a Put when the object already exists
	NoOverWrite = true
)

// Attributes of a stored object.
type Attributes struct {
	Key     string
	Size    int64
	Updated time.Time
	// Checksum is the hex-encoded MD5 of the content, empty when the backend cannot tell
	Checksum string
}

// Store implementations know how to write objects to a K/V model.
//
// Typically this is something file system-like. Examples are S3, local FS, NFS, ...
// Implementations of this interface are assumed to be fairly simple.
type Store interface {
	String() string
	Has(context.Context, string) (bool, error)
	Get(context.Context, string) (io.ReadCloser, error)
	Put(context.Context, string, io.Reader, bool) error
	Delete(context.Context, string) error
	// Keys lists all keys starting with prefix. An empty prefix lists the whole store.
	Keys(context.Context, string) ([]string, error)
	GetAttr(context.Context, string) (Attributes, error)
	// List returns the attributes of all objects with keys starting with prefix.
	List(context.Context, string) ([]Attributes, error)
}

// Copy an object from one store to another, without buffering it in memory.
func Copy(ctx context.Context, src Store, srcKey string, dst Store, dstKey string) error {
	reader, err := src.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	defer func() {
		_ = reader.Close()
	}()
	return dst.Put(ctx, dstKey, reader, OverWrite)
}

// Checksum returns the hex MD5 digest of a stream, and the number of bytes read.
func Checksum(r io.Reader) (string, int64, error) {
	h := md5.New() // #nosec
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
