package main

import (
	"github.com/kayz/tavern/cmd"
)

// Build is stamped by the linker via -ldflags "-X main.Build=...".
var Build = "unknown"

func main() {
	cmd.SetBuild(Build)
	cmd.Execute()
}
