// Package merge assembles a staged tree from an ordered list of transfer
// records and applies the permission manifests shipped inside source trees.
//
// Records are applied in order and later records silently overwrite files
// written by earlier ones.
package merge
