// Package secrets resolves credential names declared in the configuration
// document to their values.
package secrets
