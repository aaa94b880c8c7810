package main

import (
	"github.com/neuroscout/neuroscout-go/internal/cli"
)

func main() {
	cli.Execute()
}
