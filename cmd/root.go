package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/inference-sim/bestfit/fit"
	"github.com/inference-sim/bestfit/fit/replay"
)

var (
	// CLI flags for the run command
	logLevel   string // Log verbosity level
	configPath string // Optional YAML options file
	tracePath  string // Replay trace driving the run
	logOutPath string // Where to write the epoch log (YAML, or JSON by extension)
	metricsOut string // Where to write tracker metrics in Prometheus text format
	resultOut  string // Where to write the result (YAML, or JSON by extension)

	// Synthetic data shape handed to the host
	trainRows int // Training samples
	valRows   int // Explicit validation samples (used when validation-split is 0)
	features  int // Input columns
	targets   int // Target columns

	// Run options; only flags that were set override the config file and environment
	flagOpts = fit.DefaultOptions()
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "bestfit",
	Short: "Track the best epoch of a training run, save it, and abandon runs that fail the sniff test",
}

// runCmd executes one training run using parameters from the config file, environment and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a training trace through the best-fit tracker",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		if tracePath == "" {
			logrus.Fatalf("Trace path not provided. Exiting run.")
		}
		opts, err := resolveOptions(afero.NewOsFs(), configPath, cmd)
		if err != nil {
			logrus.Fatalf("Invalid run options: %v", err)
		}

		trace, err := replay.LoadTrace(tracePath)
		if err != nil {
			logrus.Fatalf("Unable to load trace: %v", err)
		}
		model, err := replay.NewModel(trace)
		if err != nil {
			logrus.Fatalf("Unable to replay trace %s: %v", tracePath, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		registry := prometheus.NewRegistry()
		train, validation := syntheticData(trainRows, valRows, features, targets)
		result, runLog, err := fit.FindBestFit(ctx, fit.Config{
			Model:      model,
			Train:      train,
			Validation: validation,
			Options:    opts,
			Fs:         afero.NewOsFs(),
			Out:        os.Stdout,
			Registerer: registry,
		})
		if err := writeOutputs(afero.NewOsFs(), result, runLog, registry); err != nil {
			logrus.Errorf("Writing outputs: %v", err)
		}
		if err != nil {
			logrus.Fatalf("Run failed: %v", err)
		}
		result.Print(os.Stdout)
		logrus.Info("Run complete.")
	},
}

func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&configPath, "config", "", "YAML file with run options")
	runCmd.Flags().StringVar(&tracePath, "trace", "", "YAML trace of per-epoch metrics to replay")
	runCmd.Flags().StringVar(&logOutPath, "log-out", "", "Write the epoch log to this file (.json for JSON, YAML otherwise)")
	runCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "Write tracker metrics to this Prometheus textfile")
	runCmd.Flags().StringVar(&resultOut, "result-out", "", "Write the run result to this file (.json for JSON, YAML otherwise)")

	runCmd.Flags().IntVar(&trainRows, "train-rows", 1000, "Number of training samples")
	runCmd.Flags().IntVar(&valRows, "val-rows", 200, "Number of explicit validation samples")
	runCmd.Flags().IntVar(&features, "features", 8, "Number of input columns")
	runCmd.Flags().IntVar(&targets, "targets", 1, "Number of target columns")

	// Hyperparameters
	runCmd.Flags().StringVar(&flagOpts.Metric, "metric", flagOpts.Metric, "Monitored metric (maximised)")
	runCmd.Flags().IntVar(&flagOpts.BatchSize, "batch-size", flagOpts.BatchSize, "Batch size")
	runCmd.Flags().IntVar(&flagOpts.Epochs, "epochs", flagOpts.Epochs, "Maximum number of epochs")
	runCmd.Flags().IntVar(&flagOpts.Patience, "patience", flagOpts.Patience, "Early-stopping patience in epochs")
	runCmd.Flags().BoolVar(&flagOpts.Shuffle, "shuffle", flagOpts.Shuffle, "Shuffle training data each epoch")
	runCmd.Flags().Float64Var(&flagOpts.ValidationSplit, "validation-split", flagOpts.ValidationSplit, "Fraction of training data held out for validation (0 = use --val-rows)")

	// Sniff test
	runCmd.Flags().IntVar(&flagOpts.SnifftestMaxEpoch, "snifftest-max-epoch", flagOpts.SnifftestMaxEpoch, "First epoch at which the sniff test applies")
	runCmd.Flags().Float64Var(&flagOpts.SnifftestMinMetric, "snifftest-min-metric", flagOpts.SnifftestMinMetric, "Abandon the run when the metric is at or below this value")
	runCmd.Flags().StringVar(&flagOpts.MissingMetric, "missing-metric", flagOpts.MissingMetric, "What to do when an epoch lacks the metric (error, fail)")

	// Persistence and progress
	runCmd.Flags().BoolVar(&flagOpts.SaveBest, "save-best", flagOpts.SaveBest, "Save the model on every new best-so-far")
	runCmd.Flags().StringVar(&flagOpts.SavePath, "save-path", flagOpts.SavePath, "Snapshot path without extension (.json and .hdf5 are appended)")
	runCmd.Flags().Float64Var(&flagOpts.BestSoFar, "best-so-far", flagOpts.BestSoFar, "Best metric value from prior runs")
	runCmd.Flags().BoolVar(&flagOpts.ShowProgress, "progress", flagOpts.ShowProgress, "Print one progress line per epoch")
	runCmd.Flags().StringVar(&flagOpts.ProgressFormat, "progress-format", flagOpts.ProgressFormat, "printf verb for metric values in progress lines")

	// Attach subcommands to `root`
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(summarizeCmd)
}
