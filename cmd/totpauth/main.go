package main

import "github.com/jmcleod/totpauth/cmd/totpauth/cmd"

func main() {
	cmd.Execute()
}
