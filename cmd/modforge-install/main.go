// Command modforge-install is a reference host program for the directive
// processing engine: a single "run" command that wires a manifest archive,
// a downloads directory, a game directory, and an output directory through
// to the orchestrator. It has no game-check or download implementation of
// its own (those are genuinely out of scope); it exists to exercise the
// engine end to end in local runs and tests.
package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/wj-modforge/modforge/cmd"
	"github.com/wj-modforge/modforge/internal/config"
	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/orchestrator"
	"github.com/wj-modforge/modforge/internal/processor"
	"github.com/wj-modforge/modforge/internal/store"
)

var runConfiguration struct {
	manifestPath string
	downloadsDir string
	gameDir      string
	outputDir    string
	storePath    string
	workers      int
	logLevel     string
	verify       bool
}

func runMain(command *cobra.Command, arguments []string) error {
	level, ok := logging.NameToLevel(runConfiguration.logLevel)
	if !ok {
		return errors.Errorf("unrecognized log level %q", runConfiguration.logLevel)
	}
	logger := logging.New(level)

	st, err := store.Open(runConfiguration.storePath)
	if err != nil {
		return err
	}
	defer st.Close()

	if n, err := st.ResetProcessingToPending(); err != nil {
		return err
	} else if n > 0 {
		logger.Infof("reset %d directive(s) left in processing by a prior run", n)
	}

	needsReimport, err := orchestrator.NeedsReimport(st, runConfiguration.manifestPath)
	if err != nil {
		return err
	}

	mr, err := manifest.Open(runConfiguration.manifestPath)
	if err != nil {
		return err
	}
	defer mr.Close()

	modlist, err := mr.ReadModlist()
	if err != nil {
		return err
	}

	if needsReimport {
		logger.Info("manifest changed since last run, reimporting")
		size, mtime, err := manifest.Fingerprint(runConfiguration.manifestPath)
		if err != nil {
			return err
		}
		if err := st.ImportManifest(modlist, size, mtime); err != nil {
			return err
		}
	}

	cfg := config.Load()
	proc := processor.New(st, mr, cfg, logger, modlist.Name,
		runConfiguration.outputDir, runConfiguration.downloadsDir, runConfiguration.gameDir, runConfiguration.workers)

	orch := &orchestrator.Orchestrator{
		Store:     st,
		Processor: proc,
		Logger:    logger,
		RunVerify: runConfiguration.verify,
	}

	return orch.Run(context.Background(), runConfiguration.gameDir)
}

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the directive processing engine against a manifest archive",
	Run:   cmd.Mainify(runMain),
}

func init() {
	flags := runCommand.Flags()
	flags.SortFlags = false

	flags.StringVar(&runConfiguration.manifestPath, "manifest", "", "path to the manifest archive")
	flags.StringVar(&runConfiguration.downloadsDir, "downloads", "", "path to the downloads directory")
	flags.StringVar(&runConfiguration.gameDir, "game-dir", "", "path to the game install directory")
	flags.StringVar(&runConfiguration.outputDir, "output", "", "path to the output directory")
	flags.StringVar(&runConfiguration.storePath, "store", "modforge.db", "path to the persistent store file")
	flags.IntVar(&runConfiguration.workers, "workers", 0, "worker pool size (default: host logical CPU count)")
	flags.StringVar(&runConfiguration.logLevel, "log-level", "info", "log level: disabled, error, warn, info, debug")
	flags.BoolVar(&runConfiguration.verify, "verify", false, "run the post-cleanup verify sweep")

	for _, name := range []string{"manifest", "downloads", "game-dir", "output"} {
		runCommand.MarkFlagRequired(name)
	}
}

var rootCommand = &cobra.Command{
	Use:          "modforge-install",
	Short:        "Materialize a mod collection's output tree from its manifest",
	SilenceUsage: true,
}

func main() {
	rootCommand.AddCommand(runCommand)
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
