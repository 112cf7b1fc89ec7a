package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/totpauth/totp"
)

var (
	keygenIssuer    string
	keygenAlgorithm string
	keygenDigits    int
	keygenPeriod    int
	keygenQRPath    string
	keygenQRSize    int
)

var keygenCmd = &cobra.Command{
	Use:   "keygen [username]",
	Short: "Generate a TOTP secret for a new user",
	Long: `Generates a random TOTP secret and prints the otpauth:// provisioning URL
together with a [[webs.users]] block ready to paste into the configuration.
With --qr the provisioning URL is also written as a PNG QR code.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenIssuer, "issuer", "totpauth", "Issuer shown by authenticator apps")
	keygenCmd.Flags().StringVar(&keygenAlgorithm, "algorithm", totp.SHA1.String(), "HMAC algorithm: sha1, sha256 or sha512")
	keygenCmd.Flags().IntVar(&keygenDigits, "digits", totp.DefaultDigits, "Code length (6 to 9)")
	keygenCmd.Flags().IntVar(&keygenPeriod, "period", totp.DefaultPeriod, "Time step in seconds")
	keygenCmd.Flags().StringVar(&keygenQRPath, "qr", "", "Write the provisioning QR code to this PNG file")
	keygenCmd.Flags().IntVar(&keygenQRSize, "qr-size", 256, "QR code size in pixels")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	username := args[0]
	alg, err := totp.ParseAlgorithm(keygenAlgorithm)
	if err != nil {
		return err
	}
	key, err := totp.NewKey(keygenIssuer, username, alg, keygenDigits, keygenPeriod)
	if err != nil {
		return err
	}

	if keygenQRPath != "" {
		img, err := key.PNG(keygenQRSize)
		if err != nil {
			return err
		}
		if err := os.WriteFile(keygenQRPath, img, 0o600); err != nil {
			return fmt.Errorf("writing qr code: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "secret: %s\n", key.Secret())
	fmt.Fprintf(out, "url:    %s\n\n", key.URL())
	fmt.Fprintln(out, "  [[webs.users]]")
	fmt.Fprintf(out, "  username  = %q\n", username)
	fmt.Fprintln(out, `  password  = "CHANGE ME"`)
	fmt.Fprintf(out, "  totp      = %q\n", key.Secret())
	fmt.Fprintln(out, "  duration  = 86400")
	if alg != totp.SHA1 {
		fmt.Fprintf(out, "  algorithm = %q\n", alg.String())
	}
	if keygenDigits != totp.DefaultDigits {
		fmt.Fprintf(out, "  digits    = %d\n", keygenDigits)
	}
	if keygenPeriod != totp.DefaultPeriod {
		fmt.Fprintf(out, "  period    = %d\n", keygenPeriod)
	}
	return nil
}
