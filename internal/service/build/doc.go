// Package build orchestrates prepares and image builds for devices.
//
// A prepare resolves the shared and router-specific files of a profile,
// writes the version fingerprint, merges everything into the device's staged
// root and stores the resulting Build Context. Prepares of one device are
// serialized; different devices proceed concurrently.
package build
