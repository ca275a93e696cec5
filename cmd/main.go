package main

import (
	"github.com/kerbaras/mangadl/cmd/mangadl"
)

func main() {
	cmd.Execute()
}
