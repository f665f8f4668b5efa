// Command relance derives follow-up tasks from booking state.
package main

import (
	"context"
	"os"

	"github.com/roach88/relance/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
