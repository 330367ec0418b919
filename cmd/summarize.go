package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/inference-sim/bestfit/fit"
)

var (
	summaryLogPath string // Epoch log written by `run --log-out`
	summaryMetric  string // Metric to summarise
)

// summarizeCmd prints statistics of one metric over a saved epoch log
var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize a metric over a saved epoch log",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		if summaryLogPath == "" {
			logrus.Fatalf("Epoch log path not provided.")
		}
		runLog, err := fit.LoadRunLog(afero.NewOsFs(), summaryLogPath)
		if err != nil {
			logrus.Fatalf("Unable to load epoch log: %v", err)
		}
		fit.Summarize(runLog, summaryMetric).Print(os.Stdout)
	},
}

func init() {
	summarizeCmd.Flags().StringVar(&summaryLogPath, "log-file", "", "Epoch log written by run --log-out")
	summarizeCmd.Flags().StringVar(&summaryMetric, "metric", fit.DefaultMetric, "Metric to summarize")
}
