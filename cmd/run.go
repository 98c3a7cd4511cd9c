package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/listkeeper/listkeeper/internal/catalog"
	"github.com/listkeeper/listkeeper/internal/id/uuid"
	"github.com/listkeeper/listkeeper/internal/pipeline"
	"github.com/listkeeper/listkeeper/pkg/config"
)

// newRunCmd creates the 'run' subcommand: load the dataset, execute the
// configured pipeline in order, and report per-step outcomes.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured pipeline over the dataset",
		Long: `Loads the dataset from source_directory, resolves each configured step
through the registry and executes them strictly in order. The dataset is
saved after every mutating step, so progress from completed steps survives
a later failure or an interrupt.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := appFromContext(cmd)
			if err != nil {
				return err
			}
			logger := appInstance.GetLogger()

			pipelineCfg, err := config.LoadPipeline()
			if err != nil {
				return configErr(fmt.Errorf("load pipeline configuration: %w", err))
			}

			root := viper.GetString("source_directory")
			ds, err := catalog.Load(root, nil)
			if err != nil {
				return configErr(fmt.Errorf("load dataset from %s: %w", root, err))
			}
			logger.Info("dataset loaded", zap.String("root", root))

			runID, err := uuid.NewUUIDGenerator().NewID()
			if err != nil {
				return stepErr(err)
			}

			// Interrupts stop new work promptly; merged progress is
			// persisted by the runner before the process exits.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := pipeline.NewRunner(appInstance.GetRegistry(), logger)
			report := runner.Run(ctx, runID, pipelineCfg, ds)

			renderReport(cmd, report)

			switch report.Outcome {
			case pipeline.Completed:
				return nil
			case pipeline.AbortedConfig:
				return configErr(fmt.Errorf("run %s aborted on a configuration error", runID))
			default:
				return stepErr(fmt.Errorf("run %s aborted; %d file(s) from earlier steps already persisted",
					runID, report.FilesWritten()))
			}
		},
	}
	return cmd
}

// renderReport prints the ordered step log as a table.
func renderReport(cmd *cobra.Command, report pipeline.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Step", "Status", "Summary"})
	for i, sr := range report.Steps {
		summary := sr.Result.Summary
		if sr.Err != nil {
			summary = sr.Err.Error()
		}
		t.AppendRow(table.Row{i + 1, sr.Name, sr.Status, summary})
	}
	t.AppendFooter(table.Row{"", "", report.Outcome.String(),
		fmt.Sprintf("%d file(s) written", report.FilesWritten())})
	t.Render()
}
