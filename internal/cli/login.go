package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuroscout/neuroscout-go/pkg/client"
	"github.com/neuroscout/neuroscout-go/pkg/config"
)

// newLoginCmd creates and returns a new login command
func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the Neuroscout server",
		Long: `Login to the Neuroscout server and store the credentials in your
configuration file. Credentials can be passed via flags, the config file,
or the NEUROSCOUT_EMAIL and NEUROSCOUT_PASSWORD environment variables.

Example:
  nsctl login --email me@example.org --password=mypassword
  nsctl login  # uses credentials from config file or environment`,
		RunE: runLogin,
	}

	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password")
	return cmd
}

// runLogin handles the login command execution
func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	if email != "" {
		cfg.Email = email
	}
	if password != "" {
		cfg.Password = password
	}
	if cfg.Email == "" || cfg.Password == "" {
		return fmt.Errorf("no credentials provided. Use --email/--password or set them in the config file")
	}

	c, err := client.New(cfg)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if !c.Authenticated() {
		return fmt.Errorf("login failed: no token received")
	}

	// Save updated configuration so future invocations can re-authenticate
	path := configFile
	if path == "" {
		if path, err = config.GetDefaultConfigPath(); err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}
	if err := cfg.WriteConfig(path); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	if jsonOutput {
		kv := map[string]interface{}{
			"status":     "success",
			"message":    "Login successful",
			"expires_at": c.TokenExpiry().Format(time.RFC3339),
		}
		printJSON(kv)
	} else {
		okLabel.Println("✓ Login successful")
		fmt.Printf("Token expires at: %s\n", c.TokenExpiry().Format(time.RFC3339))
	}

	return nil
}
