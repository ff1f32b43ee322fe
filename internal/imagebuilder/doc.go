// Package imagebuilder drives the external OpenWrt image builder.
//
// Provisioner downloads and unpacks one image builder per profile under the
// builders path and records the unpacked folder name next to it. Runner
// invokes `make image` inside that folder with the staged tree of a device and
// returns the produced sysupgrade image.
package imagebuilder
