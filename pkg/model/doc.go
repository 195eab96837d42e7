// Package model describes the base objects manipulated by munkipipe.
//
// The object model is composed of:
//
//	Recipes:
//	  An AutoPkg recipe (usually an override) describing how to fetch and package one software title.
//	  Overrides point to their parent recipe, provided by a recipe repository.
//
//	Manifest entries (pkginfo):
//	  The Munki metadata describing one installable version of a title. Stored under pkgsinfo/.
//
//	Artifacts:
//	  Installer payloads, stored under pkgs/ and referenced by pkginfo files.
//
//	Imports:
//	  What a successful recipe run produced: a new pkginfo and its artifact, awaiting review.
package model
