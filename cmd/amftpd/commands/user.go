package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amftpd/amftpd/internal/cli/output"
	"github.com/amftpd/amftpd/internal/cli/prompt"
	"github.com/amftpd/amftpd/internal/config"
	"github.com/amftpd/amftpd/internal/userstore"
)

var userOutputFormat string

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage amftpd accounts",
}

func init() {
	userCmd.AddCommand(userAddCmd, userDeleteCmd, userListCmd, userPasswdCmd, userGrantCmd, userShowCmd)
	userCmd.PersistentFlags().StringVar(&userOutputFormat, "output", "table", "Output format: table, json, yaml")

	userAddCmd.Flags().String("home", "/", "Virtual home directory")
	userAddCmd.Flags().String("group", "", "Primary group")
	userAddCmd.Flags().Bool("admin", false, "Grant the administrator flag")
	userAddCmd.Flags().Bool("siteop", false, "Grant the siteop flag")
	userAddCmd.Flags().Int64("credits-kb", 0, "Starting credit balance, in KB")

	userGrantCmd.Flags().Bool("revoke", false, "Revoke the flag instead of granting it")
}

// accountView is the JSON/YAML projection of an account shown by `user
// list`/`user show`, trimmed of the password hash.
type accountView struct {
	Name            string   `json:"name" yaml:"name"`
	Home            string   `json:"home" yaml:"home"`
	PrimaryGroup    string   `json:"primary_group" yaml:"primary_group"`
	SecondaryGroups []string `json:"secondary_groups,omitempty" yaml:"secondary_groups,omitempty"`
	Flags           string   `json:"flags" yaml:"flags"`
	CreditsKB       int64    `json:"credits_kb" yaml:"credits_kb"`
	MaxConcurrent   uint32   `json:"max_concurrent" yaml:"max_concurrent"`
	Disabled        bool     `json:"disabled" yaml:"disabled"`
}

func toAccountView(a userstore.Account) accountView {
	return accountView{
		Name:            a.Name,
		Home:            a.Home,
		PrimaryGroup:    a.PrimaryGroup,
		SecondaryGroups: a.SecondaryGroups,
		Flags:           flagSummary(a.Flags),
		CreditsKB:       a.CreditsKB,
		MaxConcurrent:   a.MaxConcurrent,
		Disabled:        a.Disabled,
	}
}

func printAccounts(views []accountView, table *output.TableData) error {
	format, err := output.ParseFormat(userOutputFormat)
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, views)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, views)
	default:
		return output.PrintTable(os.Stdout, table)
	}
}

func openUserStore() (*userstore.Store, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}
	return userstore.Open(userstore.Options{
		Dir:                 cfg.UserStore.Dir,
		Passphrase:          cfg.UserStore.Passphrase,
		CompactionThreshold: int64(cfg.UserStore.CompactionThreshold),
	})
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a new account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		store, err := openUserStore()
		if err != nil {
			return fmt.Errorf("failed to open user store: %w", err)
		}
		defer store.Close()

		if _, exists := store.Find(username); exists {
			return fmt.Errorf("account %q already exists", username)
		}

		password, err := prompt.PasswordWithConfirmation("Password", "Confirm password", 8)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}

		hash, err := userstore.HashPassword(password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		home, _ := cmd.Flags().GetString("home")
		group, _ := cmd.Flags().GetString("group")
		admin, _ := cmd.Flags().GetBool("admin")
		siteop, _ := cmd.Flags().GetBool("siteop")
		credits, _ := cmd.Flags().GetInt64("credits-kb")

		acct := userstore.Account{
			Name:         username,
			PasswordHash: hash,
			Home:         home,
			PrimaryGroup: group,
			CreditsKB:    credits,
			Flags: userstore.Flags{
				Admin:         admin,
				Siteop:        siteop,
				AllowUpload:   true,
				AllowDownload: true,
				AllowActive:   true,
			},
		}

		if err := store.TryAdd(acct); err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}

		fmt.Printf("Account %q created\n", username)
		return nil
	},
}

var userDeleteCmd = &cobra.Command{
	Use:     "delete <username>",
	Aliases: []string{"remove", "rm"},
	Short:   "Delete an account",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		confirmed, err := prompt.ConfirmDanger(fmt.Sprintf("This will permanently delete %q", username), username)
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Aborted.")
			return nil
		}

		store, err := openUserStore()
		if err != nil {
			return fmt.Errorf("failed to open user store: %w", err)
		}
		defer store.Close()

		if err := store.TryDelete(username); err != nil {
			if err == userstore.ErrNotFound {
				return fmt.Errorf("account %q not found", username)
			}
			return fmt.Errorf("failed to delete account: %w", err)
		}

		fmt.Printf("Account %q deleted\n", username)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openUserStore()
		if err != nil {
			return fmt.Errorf("failed to open user store: %w", err)
		}
		defer store.Close()

		accounts := store.All()
		if len(accounts) == 0 && userOutputFormat == "table" {
			fmt.Println("No accounts configured")
			return nil
		}

		table := output.NewTableData("USERNAME", "GROUP", "FLAGS", "CREDITS (KB)", "DISABLED")
		views := make([]accountView, 0, len(accounts))
		for _, a := range accounts {
			table.AddRow(a.Name, a.PrimaryGroup, flagSummary(a.Flags), strconv.FormatInt(a.CreditsKB, 10), strconv.FormatBool(a.Disabled))
			views = append(views, toAccountView(a))
		}
		return printAccounts(views, table)
	},
}

var userShowCmd = &cobra.Command{
	Use:   "show <username>",
	Short: "Show one account's details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openUserStore()
		if err != nil {
			return fmt.Errorf("failed to open user store: %w", err)
		}
		defer store.Close()

		a, ok := store.Find(args[0])
		if !ok {
			return fmt.Errorf("account %q not found", args[0])
		}

		format, err := output.ParseFormat(userOutputFormat)
		if err != nil {
			return err
		}
		switch format {
		case output.FormatJSON:
			return output.PrintJSON(os.Stdout, toAccountView(a))
		case output.FormatYAML:
			return output.PrintYAML(os.Stdout, toAccountView(a))
		default:
			return output.SimpleTable(os.Stdout, [][2]string{
				{"Username", a.Name},
				{"Home", a.Home},
				{"Primary group", a.PrimaryGroup},
				{"Secondary groups", strings.Join(a.SecondaryGroups, ",")},
				{"Flags", flagSummary(a.Flags)},
				{"Credits (KB)", strconv.FormatInt(a.CreditsKB, 10)},
				{"Max concurrent", strconv.FormatUint(uint64(a.MaxConcurrent), 10)},
				{"Disabled", strconv.FormatBool(a.Disabled)},
			})
		}
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Change an account's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		store, err := openUserStore()
		if err != nil {
			return fmt.Errorf("failed to open user store: %w", err)
		}
		defer store.Close()

		acct, ok := store.Find(username)
		if !ok {
			return fmt.Errorf("account %q not found", username)
		}

		password, err := prompt.PasswordWithConfirmation("New password", "Confirm password", 8)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}

		hash, err := userstore.HashPassword(password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		acct.PasswordHash = hash

		if err := store.TryUpdate(acct); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}

		fmt.Printf("Password changed for %q\n", username)
		return nil
	},
}

var userGrantCmd = &cobra.Command{
	Use:   "grant <username> <flag>",
	Short: "Grant or revoke a boolean flag (admin, siteop, allow_fxp, allow_upload, allow_download, allow_active)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		username, flagName := args[0], args[1]
		revoke, _ := cmd.Flags().GetBool("revoke")

		store, err := openUserStore()
		if err != nil {
			return fmt.Errorf("failed to open user store: %w", err)
		}
		defer store.Close()

		acct, ok := store.Find(username)
		if !ok {
			return fmt.Errorf("account %q not found", username)
		}

		if err := setFlag(&acct.Flags, flagName, !revoke); err != nil {
			return err
		}

		if err := store.TryUpdate(acct); err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}

		verb := "Granted"
		if revoke {
			verb = "Revoked"
		}
		fmt.Printf("%s %q %s\n", verb, flagName, username)
		return nil
	},
}

func setFlag(f *userstore.Flags, name string, value bool) error {
	switch strings.ToLower(name) {
	case "admin":
		f.Admin = value
	case "siteop":
		f.Siteop = value
	case "allow_fxp", "fxp":
		f.AllowFXP = value
	case "allow_upload", "upload":
		f.AllowUpload = value
	case "allow_download", "download":
		f.AllowDownload = value
	case "allow_active", "active":
		f.AllowActive = value
	default:
		return fmt.Errorf("unknown flag %q", name)
	}
	return nil
}

func flagSummary(f userstore.Flags) string {
	var parts []string
	if f.Admin {
		parts = append(parts, "admin")
	}
	if f.Siteop {
		parts = append(parts, "siteop")
	}
	if f.AllowFXP {
		parts = append(parts, "fxp")
	}
	if f.AllowUpload {
		parts = append(parts, "upload")
	}
	if f.AllowDownload {
		parts = append(parts, "download")
	}
	if f.AllowActive {
		parts = append(parts, "active")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}
