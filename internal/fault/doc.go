// Package fault defines the error taxonomy shared by the staging pipeline.
//
// Failures are wrapped around one of the sentinels below so that callers,
// the HTTP layer in particular, can classify them with errors.Is.
package fault
