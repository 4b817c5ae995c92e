package main

import "github.com/veil-waf/phishguard/internal/cli"

func main() {
	cli.Execute()
}
