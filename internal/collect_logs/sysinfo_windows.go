package collect_logs

import (
	"fmt"

	"golang.org/x/sys/windows/registry"
)

// getWindowsRegistryVersion reads the product name and build from the registry.
func getWindowsRegistryVersion() string {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows NT\CurrentVersion`, registry.QUERY_VALUE)
	if err != nil {
		return ""
	}
	defer k.Close()

	product, _, err := k.GetStringValue("ProductName")
	if err != nil {
		return ""
	}
	build, _, _ := k.GetStringValue("CurrentBuild")
	display, _, _ := k.GetStringValue("DisplayVersion")
	return fmt.Sprintf("Windows: %s %s (build %s)\n", product, display, build)
}
