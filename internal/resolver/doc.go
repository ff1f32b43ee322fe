// Package resolver turns the file entries of a profile into merge records.
//
// Shared entries resolve through the content-addressed cache and contribute
// one fingerprint token per resolved unit. Router-specific entries produce
// fresh per-device secret material in a temporary directory and contribute
// no tokens, since every issuance differs.
package resolver
