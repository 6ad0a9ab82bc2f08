package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cochaviz/isoforge/internal/artifacts"
	"github.com/cochaviz/isoforge/internal/spec"
)

func newBuildCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build <spec>...",
		Args:  cobra.MinimumNArgs(1),
		Short: "Parse every spec file, then build them in order",
		Long: "Parse every spec file, then build them in order. The first spec whose\n" +
			"steps fail stops the batch and its status becomes the exit status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := a.logger.With("command", "build")
			logger.Info("processing spec files", "count", len(args))

			status, err := a.engine().ProcessFiles(cmd.Context(), args)
			if err != nil {
				return err
			}
			if status != 0 {
				logger.Error("build failed", "status", status)
				return &exitStatus{code: status}
			}
			logger.Info("build completed")
			return nil
		},
	}
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <spec>...",
		Args:  cobra.MinimumNArgs(1),
		Short: "Parse spec files and print the resulting configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := a.engine().ParseFiles(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, job := range jobs {
				if i > 0 {
					fmt.Fprintln(out)
				}
				printMetadata(out, job.Path, job.Metadata)
			}
			return nil
		},
	}
}

func newExpandCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expand <spec>",
		Args:  cobra.ExactArgs(1),
		Short: "Print a spec file with every macro directive expanded",
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := a.engine().Parser.Expand(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newStrategiesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Args:  cobra.NoArgs,
		Short: "List the available execution strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, strategy := range a.registry.Strategies() {
				root := ""
				if strategy.RequireSuperUser() {
					root = " (requires root)"
				}
				fmt.Fprintf(out, "%s%s\n", strategy.ID(), root)
				fmt.Fprintf(out, "  vital: %s\n", strings.Join(strategy.VitalParameters(), ", "))
			}
			return nil
		},
	}
}

func newVerifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <manifest>...",
		Args:  cobra.MinimumNArgs(1),
		Short: "Check produced images against their manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var errs []error
			for _, path := range args {
				manifest, err := artifacts.Verify(path)
				if err != nil {
					a.logger.Error("verification failed", "manifest", path, "error", err)
					errs = append(errs, err)
					continue
				}
				img, _ := manifest.Image()
				fmt.Fprintf(out, "%s: OK (%s)\n", img.URI, *img.Checksum)
			}
			return errors.Join(errs...)
		},
	}
}

func printMetadata(out io.Writer, path string, metadata spec.Metadata) {
	strategy := metadata.Strategy()
	fmt.Fprintf(out, "%s\n", path)
	fmt.Fprintf(out, "  %s: %s\n", spec.ExecutionStrategyKey, strategy.ID())
	for _, key := range metadata.Keys() {
		fmt.Fprintf(out, "  %s: %s\n", key, formatValue(metadata[key]))
	}
	for _, attr := range strategy.Describe(metadata) {
		fmt.Fprintf(out, "  # %s\n", formatAttr(attr))
	}
}

func formatValue(value any) string {
	switch v := value.(type) {
	case []string:
		return "[" + strings.Join(v, ", ") + "]"
	default:
		return fmt.Sprint(v)
	}
}

func formatAttr(attr slog.Attr) string {
	return attr.Key + "=" + attr.Value.String()
}
