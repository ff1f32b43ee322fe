// Package archive unpacks the archives ptah downloads: zip repository
// snapshots and zstd-compressed tar image builders. Entries escaping the
// destination directory are rejected.
package archive
