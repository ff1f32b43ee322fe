// Package server runs the ptah HTTP API process.
//
// Run loads settings and the configuration document, wires the build service
// and serves the API until the context is canceled, then shuts down gracefully.
package server
