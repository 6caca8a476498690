//go:build windows

package tshark

// DefaultPath is where the Wireshark installer puts tshark.
const DefaultPath = "C:/Program Files/Wireshark/tshark.exe"
