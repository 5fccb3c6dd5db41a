// Package commands implements the proxkey-log CLI commands.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "proxkey-log",
		Short:        "Protocol capture analyzer",
		SilenceUsage: true,
	}
	root.AddCommand(viewCmd(), exportCmd(), filterCmd(), statsCmd())
	return root
}

// addFilterFlags registers the event selection flags shared by view,
// export and filter.
func addFilterFlags(cmd *cobra.Command, opts *FilterOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	f.StringVar(&opts.VehicleID, "vehicle", "", "Filter by vehicle ID")
	f.StringVar(&opts.Role, "role", "", "Filter by capturing side (anchor, tag, authority)")
	f.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	f.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	f.StringVar(&opts.Layer, "layer", "", "Filter by layer (link, command, session, ranging, vehicle)")
	f.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out, none)")
	f.StringVar(&opts.Category, "category", "", "Filter by category (message, state, error, measurement)")
}

func viewCmd() *cobra.Command {
	var opts FilterOptions
	cmd := &cobra.Command{
		Use:   "view [flags] <file.pklog>",
		Short: "View a capture in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Filter()
			if err != nil {
				return err
			}
			return RunView(args[0], filter, cmd.OutOrStdout())
		},
	}
	addFilterFlags(cmd, &opts)
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		opts   FilterOptions
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export [flags] <file.pklog>",
		Short: "Export a capture to JSONL, CSV or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Filter()
			if err != nil {
				return err
			}
			if output == "" {
				return RunExport(args[0], filter, format, cmd.OutOrStdout())
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := RunExport(args[0], filter, format, f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	addFilterFlags(cmd, &opts)
	cmd.Flags().StringVar(&format, "format", "jsonl", "Output format (jsonl, csv, yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func filterCmd() *cobra.Command {
	var opts FilterOptions
	cmd := &cobra.Command{
		Use:   "filter [flags] <file.pklog>",
		Short: "Filter a capture and write a new file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunFilter(args[0], opts, cmd.OutOrStdout())
		},
	}
	addFilterFlags(cmd, &opts)
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Output file (required)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file.pklog>",
		Short: "Show statistics about a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunStats(args[0], cmd.OutOrStdout())
		},
	}
}
