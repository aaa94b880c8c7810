package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neuroscout/neuroscout-go/pkg/api"
)

// listFlags are the filters shared by the resource listing commands.
type listFlags struct {
	datasetName string
	taskName    string
	subject     string
	runIDs      []int
	asTable     bool
}

func (f *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.datasetName, "dataset-name", "", "Filter by dataset name")
	cmd.Flags().StringVar(&f.taskName, "task-name", "", "Filter by task name")
	cmd.Flags().StringVar(&f.subject, "subject", "", "Filter by subject")
	cmd.Flags().IntSliceVar(&f.runIDs, "run-id", nil, "Filter by run id")
	cmd.Flags().BoolVar(&f.asTable, "table", false, "Shape the output as a table with resolved names")
}

func (f *listFlags) params() api.Params {
	p := api.Params{}
	if f.datasetName != "" {
		p["dataset_name"] = f.datasetName
	}
	if f.taskName != "" {
		p["task_name"] = f.taskName
	}
	if f.subject != "" {
		p["subject"] = f.subject
	}
	if len(f.runIDs) > 0 {
		p["run_id"] = f.runIDs
	}
	if f.asTable {
		p["output_type"] = api.OutputDF
	}
	return p
}

// printResult renders a listing result: JSON by default, aligned rows for
// tabular results in human mode.
func printResult(v any) {
	if table, ok := v.(*api.Table); ok && !jsonOutput {
		printTable(table)
		return
	}
	printJSON(v)
}

func printTable(t *api.Table) {
	for _, col := range t.Columns {
		fmt.Printf("%v\t", col)
	}
	fmt.Println()
	for _, row := range t.Rows {
		for _, col := range t.Columns {
			fmt.Printf("%v\t", row[col])
		}
		fmt.Println()
	}
}

// newDatasetsCmd lists datasets
func newDatasetsCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List datasets",
		Long: `List datasets available on the Neuroscout server.

Examples:
  # List active datasets
  nsctl datasets

  # Include inactive datasets
  nsctl datasets --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			params := api.Params{}
			if !activeOnly {
				params["active_only"] = false
			}
			v, err := a.Datasets.Get(cmd.Context(), params)
			if err != nil {
				return err
			}
			printResult(v)
			return nil
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", true, "Only list active datasets")
	return cmd
}

// newRunsCmd lists runs
func newRunsCmd() *cobra.Command {
	flags := &listFlags{}
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs",
		Long: `List runs, filterable by dataset, task and subject.

Examples:
  # List runs for a dataset
  nsctl runs --dataset-name studyforrest

  # List runs for one subject, as a table
  nsctl runs --dataset-name studyforrest --subject 01 --table`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			v, err := a.Runs.Get(cmd.Context(), flags.params())
			if err != nil {
				return err
			}
			printResult(v)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// newPredictorsCmd lists predictors
func newPredictorsCmd() *cobra.Command {
	flags := &listFlags{}
	cmd := &cobra.Command{
		Use:   "predictors",
		Short: "List predictors",
		Long: `List predictors, filterable by dataset, task, subject or run.

Examples:
  # List predictors available for a dataset
  nsctl predictors --dataset-name studyforrest

  # List predictors for specific runs
  nsctl predictors --run-id 10 --run-id 11`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			v, err := a.Predictors.Get(cmd.Context(), flags.params())
			if err != nil {
				return err
			}
			printResult(v)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func init() {
	rootCmd.AddCommand(newDatasetsCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newPredictorsCmd())
}
