package main

import "github.com/nostrstack/paykit/internal/cli"

func main() {
	cli.Execute()
}
