package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/shen2/MSM/internal/config"
)

var configForce bool

// confirmOverwrite asks before replacing an existing file. It reports
// false without asking when stdin is not a terminal.
var confirmOverwrite = func(path string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, nil
	}

	overwrite := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("%s already exists. Overwrite it?", path),
		Default: false,
	}
	if err := survey.AskOne(prompt, &overwrite); err != nil {
		return false, err
	}
	return overwrite, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the .msm.yml configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented .msm.yml template",
	Long: `Write a commented .msm.yml template to the work dir.

An existing file is kept unless --force is given or the overwrite is
confirmed interactively.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(workDir())

		if loader.Exists() && !configForce {
			ok, err := confirmOverwrite(loader.Path())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s already exists (use --force to overwrite)", loader.Path())
			}
		}

		if err := loader.WriteTemplate(); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "Created %s", loader.Path())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		loader := config.NewLoader(workDir())

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		source := loader.Path()
		if !loader.Exists() {
			source = "built-in defaults"
		}
		printInfo(out, "Source: %s", source)

		masked := *cfg
		masked.Database.Password = maskSecret(cfg.Database.Password)
		masked.Database.ConnectionString = maskURLPassword(cfg.Database.ConnectionString)

		data, err := yaml.Marshal(&masked)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		fmt.Fprint(out, string(data))
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// maskURLPassword hides the password of a connection URL
func maskURLPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}
