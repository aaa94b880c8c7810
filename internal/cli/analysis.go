package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neuroscout/neuroscout-go/pkg/api"
)

// analysisCmd groups the analysis workflow subcommands
var analysisCmd = &cobra.Command{
	Use:   "analysis",
	Short: "Create and manage analyses",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// newAnalysisGetCmd fetches an analysis by hash id
func newAnalysisGetCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "get HASH_ID",
		Short: "Fetch an analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			var record map[string]any
			if full {
				record, err = a.Analyses.GetFull(cmd.Context(), args[0])
			} else {
				record, err = a.Analyses.Get(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			printJSON(record)
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Include nested runs and predictors")
	return cmd
}

// newAnalysisCreateCmd runs the analysis creation wizard
func newAnalysisCreateCmd() *cobra.Command {
	opts := api.CreateAnalysisOptions{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an analysis from names and filters",
		Long: `Create a complete analysis: dataset and predictor names are resolved
to ids, matching runs are discovered, and a three-level model is generated.

Example:
  nsctl analysis create --name "forrest rms" --dataset-name studyforrest \
    --predictors rms,brightness --tasks objectcategories --hrf rms,brightness`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			analysis, err := a.Analyses.CreateAnalysis(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"hash_id": analysis.HashID, "name": analysis.Name})
			} else {
				okLabel.Printf("✓ Created analysis %s\n", analysis.HashID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "Analysis name")
	cmd.Flags().StringVar(&opts.DatasetName, "dataset-name", "", "Dataset name")
	cmd.Flags().StringSliceVar(&opts.PredictorNames, "predictors", nil, "Predictor names")
	cmd.Flags().StringSliceVar(&opts.Tasks, "tasks", nil, "Task names (default: all tasks in the dataset)")
	cmd.Flags().StringSliceVar(&opts.Subjects, "subjects", nil, "Subjects to include")
	cmd.Flags().IntSliceVar(&opts.RunNumbers, "run-numbers", nil, "Run numbers to include")
	cmd.Flags().StringVar(&opts.Session, "session", "", "Session to include")
	cmd.Flags().StringSliceVar(&opts.HRFVariables, "hrf", nil, "Predictors to convolve with the HRF")
	cmd.Flags().StringVar(&opts.Description, "description", "", "Analysis description")
	return cmd
}

// newAnalysisCompileCmd submits an analysis for compilation
func newAnalysisCompileCmd() *cobra.Command {
	opts := api.CompileOptions{}
	cmd := &cobra.Command{
		Use:   "compile HASH_ID",
		Short: "Submit an analysis for compilation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			record, err := a.Analyses.Compile(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(record)
			} else {
				okLabel.Printf("✓ Compilation submitted for %s\n", args[0])
				fmt.Printf("Status: %v\n", record["status"])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Build, "build", false, "Build and verify the design matrix during compilation")
	cmd.Flags().BoolVar(&opts.ValidateLocally, "validate", true, "Validate the model locally before submitting")
	return cmd
}

// newAnalysisStatusCmd fetches the compilation status
func newAnalysisStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status HASH_ID",
		Short: "Get the compilation status of an analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			record, err := a.Analyses.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(record)
			} else {
				fmt.Printf("Status: %v\n", record["status"])
				if tb, ok := record["traceback"].(string); ok && tb != "" {
					fmt.Printf("Traceback: %s\n", tb)
				}
			}
			return nil
		},
	}
}

// newAnalysisReportCmd generates and fetches a report
func newAnalysisReportCmd() *cobra.Command {
	var wait bool
	var runIDs []int
	cmd := &cobra.Command{
		Use:   "report HASH_ID",
		Short: "Generate and fetch an analysis report",
		Long: `Generate a design report for an analysis and fetch the result.

Example:
  nsctl analysis report AB123 --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			if _, err := a.Analyses.GenerateReport(cmd.Context(), args[0], api.ReportOptions{RunID: runIDs}); err != nil {
				return err
			}
			report, err := a.Analyses.GetReport(cmd.Context(), args[0], runIDs, wait)
			if err != nil {
				return err
			}
			printJSON(report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the report leaves the PENDING state")
	cmd.Flags().IntSliceVar(&runIDs, "run-id", nil, "Restrict the report to specific runs")
	return cmd
}

// newAnalysisBundleCmd downloads the execution bundle
func newAnalysisBundleCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "bundle HASH_ID",
		Short: "Download the analysis execution bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			if output == "" {
				output = args[0] + "_bundle.tar.gz"
			}
			if _, err := a.Analyses.GetBundle(cmd.Context(), args[0], output); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]string{"status": "success", "file": output})
			} else {
				okLabel.Printf("✓ Bundle written to %s\n", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: <hash>_bundle.tar.gz)")
	return cmd
}

// newAnalysisCloneCmd clones an analysis
func newAnalysisCloneCmd() *cobra.Command {
	var datasetID int
	cmd := &cobra.Command{
		Use:   "clone HASH_ID",
		Short: "Clone an analysis, optionally onto another dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			analysis, err := a.Analyses.GetAnalysis(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			clone, err := analysis.Clone(cmd.Context(), datasetID)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]string{"hash_id": clone.HashID})
			} else {
				okLabel.Printf("✓ Cloned %s to %s\n", args[0], clone.HashID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&datasetID, "dataset-id", 0, "Retarget the clone at another dataset")
	return cmd
}

// newAnalysisDeleteCmd deletes an analysis
func newAnalysisDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete HASH_ID",
		Short: "Delete an analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			if err := a.Analyses.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]string{"status": "success"})
			} else {
				okLabel.Printf("✓ Deleted analysis %s\n", args[0])
			}
			return nil
		},
	}
}

func init() {
	analysisCmd.AddCommand(newAnalysisGetCmd())
	analysisCmd.AddCommand(newAnalysisCreateCmd())
	analysisCmd.AddCommand(newAnalysisCompileCmd())
	analysisCmd.AddCommand(newAnalysisStatusCmd())
	analysisCmd.AddCommand(newAnalysisReportCmd())
	analysisCmd.AddCommand(newAnalysisBundleCmd())
	analysisCmd.AddCommand(newAnalysisCloneCmd())
	analysisCmd.AddCommand(newAnalysisDeleteCmd())
	rootCmd.AddCommand(analysisCmd)
}
