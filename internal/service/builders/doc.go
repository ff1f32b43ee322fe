// Package builders provisions the OpenWrt image builders of every profile.
//
// It is the one-off preparation step run before the server: each profile gets
// its image builder downloaded, unpacked and recorded under the builders path.
package builders
