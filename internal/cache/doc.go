// Package cache is the content-addressed download cache shared by all
// devices. An entry is a directory named after the content identity of what
// it holds; an existing directory is always complete.
package cache
