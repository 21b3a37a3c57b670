package main

import (
	"fmt"
	"os"

	"github.com/tbourn/wamcp-ingest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wamcp:", err)
		os.Exit(1)
	}
}
