package collect_logs

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
	"EnigmaNetz/Enigma-Tshark/internal/version"
)

// Tool is the capture tool whose version and interface listing go in the bundle.
type Tool interface {
	Version(ctx context.Context) (string, error)
	ListInterfaces(ctx context.Context) ([]common.InterfaceDescriptor, error)
}

// Options selects what goes into the bundle. Empty paths are skipped.
type Options struct {
	LogDir      string
	CaptureDir  string
	ConfigFile  string
	CatalogPath string
	Tool        Tool
}

// DefaultOptions matches the default config layout.
func DefaultOptions() Options {
	return Options{
		LogDir:      "logs",
		CaptureDir:  "captures",
		ConfigFile:  "config.json",
		CatalogPath: filepath.Join("data", "catalog.db"),
	}
}

// CollectLogs creates a zip archive with logs, a listing of the captures,
// config, catalog, version, tshark and system info for diagnostics.
// zipName is the output file name (e.g., "enigma-tshark-logs-YYYYMMDD-HHMMSS.zip").
func CollectLogs(ctx context.Context, zipName string, opts Options) error {
	zipFile, err := os.Create(zipName)
	if err != nil {
		return fmt.Errorf("failed to create zip: %w", err)
	}
	defer zipFile.Close()

	zipWriter := zip.NewWriter(zipFile)

	// Missing inputs are not fatal. Entries are named relative to the bundle
	// root whatever the configured paths look like.
	if opts.LogDir != "" {
		if logFiles, err := os.ReadDir(opts.LogDir); err == nil {
			for _, entry := range logFiles {
				if entry.IsDir() {
					continue
				}
				_ = addFileToZip(zipWriter, filepath.Join(opts.LogDir, entry.Name()), "logs/"+entry.Name())
			}
		}
	}
	if opts.CaptureDir != "" {
		if listing, err := listCaptures(opts.CaptureDir); err == nil {
			_ = addStringToZip(zipWriter, "captures.txt", listing)
		}
	}
	if opts.ConfigFile != "" {
		_ = addFileToZip(zipWriter, opts.ConfigFile, "config/"+filepath.Base(opts.ConfigFile))
	}
	if opts.CatalogPath != "" {
		_ = addFileToZip(zipWriter, opts.CatalogPath, "catalog/"+filepath.Base(opts.CatalogPath))
	}

	_ = addStringToZip(zipWriter, "version.txt", version.String()+"\n")
	_ = addStringToZip(zipWriter, "system-info.txt", getSystemInfo())
	if opts.Tool != nil {
		_ = addStringToZip(zipWriter, "tshark.txt", getToolInfo(ctx, opts.Tool))
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to finish zip: %w", err)
	}
	return nil
}

func addFileToZip(zipWriter *zip.Writer, filename, name string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w, err := zipWriter.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, file)
	return err
}

func addStringToZip(zipWriter *zip.Writer, filename, content string) error {
	w, err := zipWriter.Create(filename)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte(content))
	return err
}

// listCaptures lists the capture files under dir with their sizes. The files
// themselves stay out of the bundle.
func listCaptures(dir string) (string, error) {
	var b strings.Builder
	var count int
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = d.Name()
		}
		fmt.Fprintf(&b, "%s\t%d\t%s\n", filepath.ToSlash(rel), info.Size(), info.ModTime().UTC().Format(time.RFC3339))
		count++
		total += info.Size()
		return nil
	})
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "%d files, %d bytes\n", count, total)
	return b.String(), nil
}

func getToolInfo(ctx context.Context, tool Tool) string {
	var b strings.Builder
	if v, err := tool.Version(ctx); err == nil {
		b.WriteString("Version: " + v + "\n")
	} else {
		b.WriteString("Version: unavailable: " + err.Error() + "\n")
	}
	ifaces, err := tool.ListInterfaces(ctx)
	if err != nil {
		b.WriteString("Interfaces: unavailable: " + err.Error() + "\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Interfaces (%d):\n", len(ifaces))
	for _, iface := range ifaces {
		b.WriteString("  " + iface.String() + "\n")
	}
	return b.String()
}

func getSystemInfo() string {
	var b strings.Builder
	b.WriteString("OS: ")
	b.WriteString(runtime.GOOS)
	b.WriteString("\nArch: ")
	b.WriteString(runtime.GOARCH)
	b.WriteString("\nGo version: ")
	b.WriteString(runtime.Version())
	b.WriteString(fmt.Sprintf("\nNumCPU: %d\n", runtime.NumCPU()))
	if hn, err := os.Hostname(); err == nil {
		b.WriteString("Hostname: ")
		b.WriteString(hn)
		b.WriteString("\n")
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	b.WriteString(fmt.Sprintf("Memory: Alloc=%d TotalAlloc=%d Sys=%d NumGC=%d\n", m.Alloc, m.TotalAlloc, m.Sys, m.NumGC))

	switch runtime.GOOS {
	case "linux":
		if f, err := os.Open("/etc/os-release"); err == nil {
			defer f.Close()
			b.WriteString("/etc/os-release:\n")
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.HasPrefix(line, "NAME=") || strings.HasPrefix(line, "VERSION=") || strings.HasPrefix(line, "PRETTY_NAME=") {
					b.WriteString("  " + line + "\n")
				}
			}
		}
		if out, err := exec.Command("uname", "-r").Output(); err == nil {
			b.WriteString("Kernel: " + strings.TrimSpace(string(out)) + "\n")
		}
	case "darwin":
		if out, err := exec.Command("sw_vers").Output(); err == nil {
			b.WriteString("sw_vers:\n")
			b.WriteString(string(out))
		}
	case "windows":
		if regInfo := getWindowsRegistryVersion(); regInfo != "" {
			b.WriteString(regInfo)
		} else if out, err := exec.Command("cmd", "/C", "ver").Output(); err == nil {
			b.WriteString("ver: " + strings.TrimSpace(string(out)) + "\n")
		}
	}
	return b.String()
}
