package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neuroscout/neuroscout-go/pkg/config"
)

// configCmd groups configuration management subcommands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage nsctl configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// newConfigCreateCmd creates the config file from flags
func newConfigCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the configuration file",
		Long: `Create the nsctl configuration file.

Example:
  nsctl config create --server https://neuroscout.org/api --email me@example.org`,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")

			cfg := &config.Config{
				APIBase:  config.MorphServer(server),
				Email:    email,
				Password: password,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			path := configFile
			if path == "" {
				var err error
				if path, err = config.GetDefaultConfigPath(); err != nil {
					return err
				}
			}
			if err := cfg.WriteConfig(path); err != nil {
				return err
			}

			if jsonOutput {
				printJSON(map[string]string{"status": "success", "config_file": path})
			} else {
				okLabel.Printf("✓ Configuration written to %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().String("server", config.DefaultAPIBase, "Neuroscout API base URL")
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password")
	return cmd
}

// newConfigShowCmd prints the effective configuration
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig()
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(map[string]string{
					"api_base": cfg.APIBase,
					"email":    cfg.Email,
				})
			} else {
				fmt.Printf("API base: %s\n", cfg.APIBase)
				if cfg.Email != "" {
					fmt.Printf("Email: %s\n", cfg.Email)
				}
			}
			return nil
		},
	}
}

func init() {
	configCmd.AddCommand(newConfigCreateCmd())
	configCmd.AddCommand(newConfigShowCmd())
	rootCmd.AddCommand(configCmd)
}
