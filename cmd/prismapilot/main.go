package main

import "github.com/websyro/prismapilot/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand())
}
