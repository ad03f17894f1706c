// Command powerone provisions a Dataverse environment for the PowerOne OKR app.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/powerone/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		// ExitErrors have already been reported by the command.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(cli.GetExitCode(err))
}
