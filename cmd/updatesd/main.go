// Command updatesd drives internal/engine outside of a React Native host:
// a small cobra CLI standing in for the embedding host, useful for
// exercising the update runtime end to end from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/tomekzaw/expo/cmd/updatesd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
