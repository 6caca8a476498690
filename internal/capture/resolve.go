package capture

import (
	"strconv"
	"strings"

	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
)

// Resolve picks the one interface a selector names. A numeric selector matches
// the listing index only; any other selector matches an exact name or an exact
// description. Zero or several matches is a KindInterfaceResolution error.
func Resolve(ifaces []common.InterfaceDescriptor, selector string) (common.InterfaceDescriptor, error) {
	sel := strings.TrimSpace(selector)

	var matches []common.InterfaceDescriptor
	if sel != "" {
		if index, err := strconv.Atoi(sel); err == nil {
			for _, iface := range ifaces {
				if iface.Index == index {
					matches = append(matches, iface)
				}
			}
		} else {
			for _, iface := range ifaces {
				if iface.Name == sel || iface.Description == sel {
					matches = append(matches, iface)
				}
			}
		}
	}

	if len(matches) != 1 {
		return common.InterfaceDescriptor{}, &common.Error{
			Kind:     common.KindInterfaceResolution,
			Op:       "resolve interface",
			Selector: selector,
			Matches:  len(matches),
		}
	}
	return matches[0], nil
}
