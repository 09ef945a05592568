package main

import (
	"log"
	"os"

	"github.com/nrc-it/staffforms/internal/cli"
)

// Runs only the web client, for hosts where the API lives elsewhere.
func main() {
	if err := cli.Execute(append([]string{"run", "client"}, os.Args[1:]...)); err != nil {
		log.Fatal(err)
	}
}
