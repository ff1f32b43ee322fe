// Package device normalizes router hardware addresses.
//
// The canonical ID scopes a build's secrets and staged output; Token is the
// projection used in filesystem paths, URLs and certificate common names.
package device
