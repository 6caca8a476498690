//go:build !windows

package collect_logs

func getWindowsRegistryVersion() string {
	return ""
}
