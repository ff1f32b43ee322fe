// Package ptah implements the HTTP transport of the build service.
//
// Routes are registered on a gorilla/mux router. Errors are mapped to status
// codes through the fault sentinels and rendered as JSON.
package ptah
