package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/totpauth/internal/config"
	"github.com/jmcleod/totpauth/web"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration file and list the configured hosts",
	RunE:  runCheckConfig,
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	pages, err := web.New(cfg.TemplateDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: OK\n", configPath)
	fmt.Fprintf(out, "mode %s on %s, %d workers, %d login attempts/s (%s limiter)\n",
		cfg.Mode, cfg.Listen, cfg.Workers, cfg.AuthPerSecond, cfg.RateLimit.Backend)
	if cfg.Secret == "" {
		fmt.Fprintln(out, "warning: no secret set, a random one is generated at every start")
	}
	for i, line := range cfg.Summary() {
		fmt.Fprintf(out, "  %s\n", line)
		if tmpl := cfg.Webs[i].Template; !pages.Has(tmpl) {
			fmt.Fprintf(out, "  warning: template %q not found, /login will answer 500\n", tmpl)
		}
	}
	return nil
}
