// Command tg2fibery mirrors pending Telegram bot messages into Fibery.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tg2fibery/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tg2fibery: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
