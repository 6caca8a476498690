package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"EnigmaNetz/Enigma-Tshark/internal/capture"
	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
	"EnigmaNetz/Enigma-Tshark/internal/capture/pcapfile"
	collect_logs "EnigmaNetz/Enigma-Tshark/internal/collect_logs"
	"EnigmaNetz/Enigma-Tshark/internal/pcapingest"
	"EnigmaNetz/Enigma-Tshark/internal/version"
)

func newInterfacesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "List the interfaces tshark can capture on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ifaces, err := a.provider.Tool.ListInterfaces(cmd.Context())
			if err != nil {
				return err
			}
			if len(ifaces) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No interfaces found. Check that tshark can capture (permissions, Npcap/libpcap).")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "INDEX\tNAME\tDESCRIPTION\n")
			for _, iface := range ifaces {
				fmt.Fprintf(w, "%d\t%s\t%s\n", iface.Index, iface.Name, iface.Description)
			}
			return w.Flush()
		},
	}
}

func newCaptureCmd(a *app) *cobra.Command {
	var (
		selector    string
		output      string
		filter      string
		duration    time.Duration
		promiscuous bool
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture traffic on one interface into a file",
		Long: `Capture traffic on one interface into a capture file. The interface is a
tshark index, name or description as shown by "interfaces". The capture runs
for --duration, or until interrupted when the duration is 0. Ctrl+C stops the
capture gracefully and keeps the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if !cmd.Flags().Changed("interface") {
				sel, err := cfg.InterfaceSelector()
				if err != nil {
					return err
				}
				selector = sel
			}
			if !cmd.Flags().Changed("duration") {
				duration = cfg.CaptureDuration()
			}
			if !cmd.Flags().Changed("filter") {
				filter = cfg.Capture.Filter
			}
			if output == "" {
				output = filepath.Join(cfg.Capture.OutputDir, fmt.Sprintf("capture-%s.pcapng", time.Now().Format("20060102-150405")))
			}

			store, closeStore, err := a.catalog()
			if err != nil {
				return err
			}
			defer closeStore()

			opts := capture.Options{StopTimeout: cfg.StopTimeout(), Logger: a.log}
			if store != nil {
				opts.Recorder = store
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			return capture.With(ctx, a.provider.Tool, selector, opts, func(s *capture.Session) error {
				if duration > 0 {
					fmt.Fprintf(out, "Capturing on %s for %s into %s\n", s.Interface(), duration, output)
				} else {
					fmt.Fprintf(out, "Capturing on %s into %s until interrupted\n", s.Interface(), output)
				}

				result, err := s.Run(ctx, common.CaptureConfig{
					Duration:    duration,
					OutputPath:  output,
					Filter:      filter,
					Promiscuous: promiscuous || cfg.Capture.Promiscuous,
				})
				if err != nil {
					return err
				}

				// ctx may be cancelled by the interrupt that ended the capture
				stats, err := a.provider.Tool.Statistics(context.WithoutCancel(ctx), result.OutputPath)
				if err != nil {
					return fmt.Errorf("capture finished but statistics failed: %w", err)
				}
				if store != nil {
					if err := store.RecordStatistics(result.OutputPath, stats); err != nil {
						a.log.Warn("Failed to record statistics: %v", err)
					}
				}
				fmt.Fprintf(out, "Captured %d frames (%d bytes) in %s\n",
					stats.Frames, stats.Bytes, result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&selector, "interface", "i", "", "Interface index, name or description (default from config)")
	cmd.Flags().StringVarP(&output, "output", "w", "", "Capture file to write (default: <output_dir>/capture-<time>.pcapng)")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Capture filter, BPF syntax")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "How long to capture; 0 runs until interrupted (default from config)")
	cmd.Flags().BoolVar(&promiscuous, "promiscuous", false, "Capture in promiscuous mode")
	return cmd
}

func newReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read <capture-file>",
		Short: "Print the packet summary lines of a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.provider.Tool.ReadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newFilterCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "filter <capture-file> <display-filter>",
		Short: "Print the packets of a capture file that match a display filter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.provider.Tool.ApplyDisplayFilter(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats <capture-file>",
		Short: "Show frame and byte totals of a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.provider.Tool.Statistics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats.Map())
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Duration\t%.3f s\n", stats.Duration)
			fmt.Fprintf(w, "Interval\t%.3f s\n", stats.Interval)
			fmt.Fprintf(w, "Frames\t%d\n", stats.Frames)
			fmt.Fprintf(w, "Bytes\t%d\n", stats.Bytes)
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <capture-file>",
		Short: "Summarize a capture file without tshark (packets, bytes, protocols)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := pcapfile.Summarize(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary.String())
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded capture sessions and file statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.catalog()
			if err != nil {
				return err
			}
			defer closeStore()
			if store == nil {
				return errors.New("the catalog is disabled (catalog.enabled = false)")
			}

			sessions, err := store.ListSessions(limit)
			if err != nil {
				return err
			}
			stats, err := store.ListStatistics(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "SESSION\tINTERFACE\tSTARTED\tDURATION\tSTOPPED\tOUTPUT\tERROR\n")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%d. %s\t%s\t%s\t%t\t%s\t%s\n",
					shortID(s.SessionID), s.InterfaceIndex, s.InterfaceName,
					s.StartTime.Local().Format("2006-01-02 15:04:05"), s.Duration().Round(time.Millisecond),
					s.Stopped, s.OutputPath, s.Error)
			}
			fmt.Fprintf(w, "\nFILE\tFRAMES\tBYTES\tDURATION\tRECORDED\n")
			for _, r := range stats {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.3f s\t%s\n",
					r.Path, r.Statistics.Frames, r.Statistics.Bytes, r.Statistics.Duration,
					r.RecordedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows per table; 0 for all")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Ingest capture files dropped into the watch directory",
		Long: `Poll <watch_dir>/incoming for .pcap and .pcapng files. Each stable file is
moved to processing/, its statistics are extracted with tshark and recorded in
the catalog, and it is moved to processed/ or failed/. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.catalog()
			if err != nil {
				return err
			}
			defer closeStore()

			var recorder pcapingest.Store
			if store != nil {
				recorder = store
			}
			w := pcapingest.NewWatcher(pcapingest.WatcherConfig{
				WatchDir:          a.cfg.Ingest.WatchDir,
				PollInterval:      a.cfg.PollInterval(),
				FileStableSeconds: a.cfg.Ingest.FileStableSeconds,
				CrossCheck:        a.cfg.Ingest.CrossCheck,
				Logger:            a.log,
			}, a.provider.Tool, recorder)
			w.OnResult(func(r pcapingest.Result) {
				if r.Err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: failed: %v\n", r.Name, r.Err)
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d frames, %d bytes\n", r.Name, r.Statistics.Frames, r.Statistics.Bytes)
			})
			return w.Run(cmd.Context())
		},
	}
}

func newCollectLogsCmd(a *app) *cobra.Command {
	var zipName string
	cmd := &cobra.Command{
		Use:   "collect-logs",
		Short: "Package logs, captures, config, catalog and diagnostics into a zip archive for support",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if zipName == "" {
				zipName = fmt.Sprintf("enigma-tshark-logs-%s.zip", time.Now().Format("20060102-150405"))
			}
			opts := collect_logs.DefaultOptions()
			opts.CaptureDir = a.cfg.Capture.OutputDir
			opts.CatalogPath = a.cfg.Catalog.Path
			opts.Tool = a.provider.Tool
			if a.cfg.Logging.File != "" {
				opts.LogDir = filepath.Dir(a.cfg.Logging.File)
			}
			if a.configPath != "" {
				opts.ConfigFile = a.configPath
			}
			if err := collect_logs.CollectLogs(cmd.Context(), zipName, opts); err != nil {
				return fmt.Errorf("failed to collect logs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s with logs, config, and diagnostics.\n", zipName)
			return nil
		},
	}
	cmd.Flags().StringVarP(&zipName, "output", "o", "", "Zip file to create")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// needs no config
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}
