//go:build !windows

package tshark

// DefaultPath resolves tshark through PATH.
const DefaultPath = "tshark"
