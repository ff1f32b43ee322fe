// Package registry is a client for the GitLab v4 endpoints ptah reads:
// releases, repository archives and generic packages.
//
// API calls authenticate with the PRIVATE-TOKEN header, release asset links
// with a bearer token. A 404 answer means the declared content does not exist
// and is reported as fault.ErrResolution.
package registry
