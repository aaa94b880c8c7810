package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/neuroscout/neuroscout-go/internal/common/logtrace"
	"github.com/neuroscout/neuroscout-go/pkg/api"
	"github.com/neuroscout/neuroscout-go/pkg/config"
)

var (
	// Global flags
	jsonOutput bool
	configFile string
	debugMode  bool
)

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nsctl [command] [flags]",
	Short: "Neuroscout CLI - A command line interface for the Neuroscout API",
	Long: `Neuroscout CLI is a command line interface for the Neuroscout API.
It lets you browse datasets, runs and predictors, and create, compile and
inspect analyses.

Examples:
  # List datasets
  nsctl datasets

  # List runs for a dataset
  nsctl runs --dataset-name studyforrest

  # Create an analysis
  nsctl analysis create --name "my analysis" --dataset-name studyforrest --predictors rms,brightness

  # Check compilation status
  nsctl analysis status AB123`,
	PersistentPreRun: preRunHandlePersistents,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	logtrace.InitLogger()

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file to override default")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "", false, "Enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newLoginCmd())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true // Prevent Cobra from printing the error
	rootCmd.SilenceUsage = true  // Prevent Cobra from printing usage on error

	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		if jsonOutput {
			kv := map[string]string{
				"error": err.Error(),
			}
			printJSON(kv)
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// preRunHandlePersistents handles persistent flags before command execution
func preRunHandlePersistents(cmd *cobra.Command, args []string) {
	if debugMode {
		logtrace.SetDebug(true)
	}
}

// loadCLIConfig resolves the effective configuration: the --config file when
// given, the default config file when present, and the environment otherwise.
func loadCLIConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadConfig(configFile)
	}

	path, err := config.GetDefaultConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return config.LoadConfig(path)
		}
	}
	return config.Default(), nil
}

// newAPI builds an authenticated API session from the effective configuration.
func newAPI() (*api.API, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}
	return api.New(cfg)
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of nsctl",
		Run: func(cmd *cobra.Command, args []string) {
			configPath, err := config.GetDefaultConfigPath()
			if err != nil {
				configPath = "unknown"
			}

			if jsonOutput {
				kv := map[string]string{
					"version":     getCLIVersion(),
					"config_file": configPath,
				}
				printJSON(kv)
			} else {
				cmd.Printf("neuroscout CLI %s\n", getCLIVersion())
				cmd.Printf("Config file: %s\n", configPath)
			}
		},
	}
}

// printJSON prints the given value as JSON to stdout
func printJSON(data interface{}) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
}

// getCLIVersion returns the current CLI version
func getCLIVersion() string {
	return "v0.1.0-alpha.1"
}
