package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/totpauth/totpauth.toml"

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "totpauth",
	Short: "totpauth is a TOTP authentication backend for reverse proxies",
	Long: `An authentication service consulted by a reverse proxy (nginx auth_request)
on every protected request. Users sign in with a password and a TOTP code and
receive a signed session cookie.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Optional .env file with TOTPAUTH_* overrides")
}
