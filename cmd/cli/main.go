package main

import "github.com/ipo-callgraph/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
