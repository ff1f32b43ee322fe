// Package integration runs ptah-server end to end against fake registry and secret services.
package integration
