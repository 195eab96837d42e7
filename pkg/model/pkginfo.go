package model

import (
	"fmt"
	"io"

	"howett.net/plist"
)

// PkgInfo is a Munki manifest entry: the metadata of one installable version of a title.
//
// Only the keys used by munkipipe are mapped.
type PkgInfo struct {
	Name                    string   `plist:"name" json:"name"`
	Version                 string   `plist:"version" json:"version"`
	DisplayName             string   `plist:"display_name,omitempty" json:"display_name,omitempty"`
	Catalogs                []string `plist:"catalogs,omitempty" json:"catalogs,omitempty"`
	InstallerItemLocation   string   `plist:"installer_item_location,omitempty" json:"installer_item_location,omitempty"`
	InstallerItemHash       string   `plist:"installer_item_hash,omitempty" json:"installer_item_hash,omitempty"`
	InstallerItemSize       int64    `plist:"installer_item_size,omitempty" json:"installer_item_size,omitempty"`
	UninstallerItemLocation string   `plist:"uninstaller_item_location,omitempty" json:"uninstaller_item_location,omitempty"`
}

// DecodePkgInfo parses a pkginfo property list (XML or binary)
func DecodePkgInfo(r io.Reader) (PkgInfo, error) {
	var info PkgInfo
	b, err := io.ReadAll(r)
	if err != nil {
		return info, err
	}
	if _, err = plist.Unmarshal(b, &info); err != nil {
		return info, fmt.Errorf("invalid pkginfo: %w", err)
	}
	if info.Name == "" {
		return info, fmt.Errorf("invalid pkginfo: missing name")
	}
	return info, nil
}

// Encode the pkginfo as an XML property list
func (p PkgInfo) Encode() ([]byte, error) {
	return plist.MarshalIndent(p, plist.XMLFormat, "\t")
}

// ArtifactKeys returns the keys of all artifacts referenced by this entry
func (p PkgInfo) ArtifactKeys() []string {
	keys := make([]string, 0, 2)
	if p.InstallerItemLocation != "" {
		keys = append(keys, PkgPath(p.InstallerItemLocation))
	}
	if p.UninstallerItemLocation != "" {
		keys = append(keys, PkgPath(p.UninstallerItemLocation))
	}
	return keys
}

func (p PkgInfo) String() string {
	return p.Name + "@" + p.Version
}
