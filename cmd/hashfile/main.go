// Command hashfile inspects table files written by the openhash package.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradyschofield/openhash"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	root := &cobra.Command{
		Use:           "hashfile",
		Short:         "inspect openhash table files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(infoCmd(), verifyCmd(logger))

	if err := root.Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>...",
		Short: "print header and occupancy summary",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				info, err := openhash.Inspect(path)
				if err != nil {
					return err
				}
				fmt.Printf("%s\n", info.Path)
				fmt.Printf("  file size      %d\n", info.FileSize)
				fmt.Printf("  live entries   %d\n", info.Count)
				fmt.Printf("  capacity       %d\n", info.Capacity)
				fmt.Printf("  tombstones     %d\n", info.Tombstones)
				fmt.Printf("  load factor    %g\n", info.LoadFactor)
				fmt.Printf("  growth factor  %g\n", info.GrowthFactor)
				fmt.Printf("  flags offset   %d\n", info.FlagsOffset)
			}
			return nil
		},
	}
}

func verifyCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>...",
		Short: "cross-check header counts against the occupancy section",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bad := 0
			for _, path := range args {
				info, err := openhash.Inspect(path)
				if err != nil {
					logger.Warn("verification failed", zap.String("path", path), zap.Error(err))
					bad++
					continue
				}
				logger.Info("ok",
					zap.String("path", path),
					zap.Int("live", info.Count),
					zap.Int("capacity", info.Capacity),
					zap.Int("tombstones", info.Tombstones))
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d files failed verification", bad, len(args))
			}
			return nil
		},
	}
}
