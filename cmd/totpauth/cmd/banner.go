package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _              _                    _   _
 | |_ ___  _ __ | |_ __ _ _   _ _ __ | |_| |__
 | __/ _ \| '_ \| __/ _` + "`" + ` | | | | '_ \| __| '_ \
 | || (_) | |_) | || (_| | |_| | | | | |_| | | |
  \__\___/| .__/ \__\__,_|\__,_|_| |_|\__|_| |_|
          |_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  TOTP Authentication Service - Version %s\x1b[0m\n\n", Version)
}
