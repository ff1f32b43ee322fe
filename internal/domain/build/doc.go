// Package build contains the Build Context: everything a prepare produced for
// one device, kept until the image is built or the context expires.
//
// Contexts never hold resolved secret values, only the paths they were
// written to and the tokens that made up the version fingerprint.
package build
