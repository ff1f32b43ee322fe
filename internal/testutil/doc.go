// Package testutil provides in-process fakes of the upstream services for tests:
// a release/package registry and a secret service with a signing key.
package testutil
