// Copyright © 2018 One Concern

// Package storage provides interface to handle backend storage objects.
//
// This package supports the following backends:
//   - S3 (AWS), scoped to a bucket and key prefix
//   - local file system (the Munki repository working tree)
//
// Keys are slash-separated paths relative to the root of the store, e.g.
// "pkgs/apps/Firefox-120.0.dmg".
package storage
