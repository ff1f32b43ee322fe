// Package remote is the HTTP plumbing shared by the registry and secret
// service clients: bounded timeouts, retries with exponential backoff for
// transient failures and classification of error answers.
package remote
