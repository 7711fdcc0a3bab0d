package main

import "github.com/ppiankov/leash/internal/cli"

func main() {
	cli.Execute()
}
