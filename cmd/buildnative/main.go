package main

import "buildnative/internal/cli"

func main() {
	cli.Main()
}
