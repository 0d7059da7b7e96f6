package main

import (
	"fmt"
	"os"

	"github.com/savlink/savlink-go/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Stderr, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
