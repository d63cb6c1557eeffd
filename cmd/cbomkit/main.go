package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/PQCA/cbomkit-go/internal/config"
	"github.com/PQCA/cbomkit-go/internal/log"

	"github.com/spf13/cobra"
)

var (
	cfg config.Config

	flagVerbose   bool
	flagQuiet     bool
	flagBranch    string
	flagSubfolder string
	flagUsername  string
	flagToken     string
)

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	scanCmd.Flags().StringVar(&flagBranch, "branch", "", "branch to scan (default main, with a one-time master fallback)")
	scanCmd.Flags().StringVar(&flagSubfolder, "subfolder", "", "sub-package folder relative to the repository root")
	scanCmd.Flags().StringVar(&flagUsername, "username", "", "username for private repositories")
	scanCmd.Flags().StringVar(&flagToken, "token", "", "token or password for private repositories")
	scanCmd.Flags().BoolVar(&flagQuiet, "quiet", false, "suppress the progress stream on stdout")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initCbomkit

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("cbomkit failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "cbomkit",
	Short:        "Generates a Cryptography Bill of Materials from a source repository",
	SilenceUsage: true,
}

var scanCmd = &cobra.Command{
	Use:   "scan <purl-or-git-url>",
	Short: "scan resolves, clones and scans a package or repository and streams progress",
	Args:  cobra.ExactArgs(1),
	RunE:  doScan,
}

var showCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "show prints the stored CBOM of a finished scan",
	Args:  cobra.ExactArgs(1),
	RunE:  doShow,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <scan-id>",
	Short: "delete removes the stored record of a scan",
	Args:  cobra.ExactArgs(1),
	RunE:  doDelete,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of cbomkit",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("cbomkit: version info not available")
			return
		}
		fmt.Printf("cbomkit: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			}
		}
	},
}

func initCbomkit(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}
	if flagVerbose {
		cfg.Verbose = true
	}
	slog.SetDefault(log.New(cfg.Verbose))
	return nil
}
