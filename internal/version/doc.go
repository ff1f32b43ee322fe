// Package version exposes build metadata for the ptah binaries.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Short and Full render them for the CLI, UserAgent for outbound
// requests to the registry and the secret service.
package version
