package model

import (
	"path"
	"path/filepath"
	"strings"
)

// Munki repository layout
const (
	PkgsInfoDir  = "pkgsinfo"
	PkgsDir      = "pkgs"
	CatalogsDir  = "catalogs"
	ManifestsDir = "manifests"
	IconsDir     = "icons"

	sweepLockFile = ".munkipipe/sweep.lock"
)

// PkgsInfoPrefix is the key prefix of all manifest entries
func PkgsInfoPrefix() string {
	return PkgsInfoDir + "/"
}

// PkgsPrefix is the key prefix of all artifacts
func PkgsPrefix() string {
	return PkgsDir + "/"
}

// PkgPath returns the key of an artifact from its location relative to pkgs/, the way
// installer_item_location and uninstaller_item_location are written in a pkginfo
func PkgPath(location string) string {
	return underDir(PkgsDir, location)
}

// PkgsInfoPath returns the key of a pkginfo file from its location relative to pkgsinfo/
func PkgsInfoPath(location string) string {
	return underDir(PkgsInfoDir, location)
}

// IconPath returns the key of an icon from its location relative to icons/
func IconPath(location string) string {
	return underDir(IconsDir, location)
}

// SweepLock is the key of the lock object held by a running retention sweep
func SweepLock() string {
	return sweepLockFile
}

// ReportedPath returns the key of a file reported by AutoPkg in dir.
//
// Relative paths are relative to dir. Absolute paths must be under the repository root,
// and are made relative to it: any other absolute path is unknown to the repository.
func ReportedPath(root, dir, reported string) (string, bool) {
	if reported == "" {
		return "", false
	}
	if !path.IsAbs(reported) {
		return underDir(dir, reported), true
	}
	root = strings.TrimSuffix(path.Clean(filepath.ToSlash(root)), "/")
	if root == "." {
		return "", false
	}
	reported = path.Clean(reported)
	if !strings.HasPrefix(reported, root+"/") {
		return "", false
	}
	return reported[len(root)+1:], true
}

// underDir joins a relative location to dir. The location never escapes dir.
func underDir(dir, location string) string {
	return dir + "/" + strings.TrimPrefix(path.Clean("/"+location), "/")
}
