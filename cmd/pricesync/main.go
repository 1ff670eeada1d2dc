package main

import (
	"context"
	"os"

	"github.com/quyen-luc/prices-app/internal/cli"
)

func main() {

	ctx := context.Background()
	if err := cli.Execute(ctx, os.Args[1:], cli.Options{}); err != nil {
		os.Exit(1)
	}

}
