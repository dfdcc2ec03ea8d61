package main

import (
	"context"
	"os"

	"wealthflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), cli.NewRootCommand()))
}
