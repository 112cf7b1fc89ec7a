package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/totpauth/internal/config"
	"github.com/jmcleod/totpauth/totp"
)

var codeHost string

// now is replaced in tests.
var now = time.Now

var codeCmd = &cobra.Command{
	Use:   "code [username]",
	Short: "Print the current TOTP code of a configured user",
	Args:  cobra.ExactArgs(1),
	RunE:  runCode,
}

func init() {
	rootCmd.AddCommand(codeCmd)
	codeCmd.Flags().StringVar(&codeHost, "host", "", "Hostname of the site the user belongs to")
	codeCmd.MarkFlagRequired("host")
}

func runCode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	sites, err := cfg.Directory()
	if err != nil {
		return err
	}
	site, ok := sites.Lookup(codeHost)
	if !ok {
		return fmt.Errorf("unknown host %q", codeHost)
	}
	user, ok := site.User(args[0])
	if !ok {
		return fmt.Errorf("unknown user %q on %s", args[0], codeHost)
	}

	t := now()
	p := user.TOTP
	code := totp.Code(p.Secret, p.Algorithm, p.Digits, totp.Counter(t, p.Period))
	remaining := int64(p.Period) - t.Unix()%int64(p.Period)
	fmt.Fprintf(cmd.OutOrStdout(), "%s (valid for %ds)\n", totp.Format(code, p.Digits), remaining)
	return nil
}
