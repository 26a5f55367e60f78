package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amftpd/amftpd/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a sample amftpd configuration file.

By default the file is created at $XDG_CONFIG_HOME/amftpd/amftpd.yaml. Use
--config to specify a custom path.

Examples:
  amftpd init
  amftpd init --config /etc/amftpd/amftpd.yaml
  amftpd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := configFileExists(path); err == nil {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := &config.Config{
		UserStore: config.UserStoreConfig{Passphrase: randomPassphrase()},
	}
	config.ApplyDefaults(cfg)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("generated default config failed validation: %w", err)
	}
	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize sections, rules, and TLS")
	fmt.Printf("  2. Start the daemon with: amftpd serve --config %s\n", path)
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random user-store passphrase has been generated. Rotating it after the")
	fmt.Println("  fact requires re-encrypting the store, so treat the initial value as final")
	fmt.Println("  for production deployments, or set AMFTPD_USER_STORE_PASSPHRASE explicitly.")
	fmt.Println("\n  The bootstrap account is admin:admin — change its password immediately:")
	fmt.Printf("    amftpd user passwd admin --config %s\n", path)

	return nil
}
