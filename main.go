package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/nrc-it/staffforms/internal/cli"
)

func main() {
	if err := cli.Execute(os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, "usage: staffforms setup [--passwords a,b,c] [--hash] [--force]")
			fmt.Fprintln(os.Stderr, "       staffforms run api|client|all [--config staffforms.yaml]")
			fmt.Fprintln(os.Stderr, "       staffforms layout [category] [--format text|yaml]")
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
