// Command stampq drives documents through initial and signature stamping.
package main

import (
	"fmt"
	"os"

	"github.com/D4NGK4/CHEDFC/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stampq:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
