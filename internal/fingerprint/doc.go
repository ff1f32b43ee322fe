// Package fingerprint accumulates content tokens into the build version hash.
//
// The accumulator is order sensitive on purpose: the same content declared in
// a different order produces a different fingerprint.
package fingerprint
