package main

import "bondkeeper/internal/cli"

func main() {
	cli.Execute()
}
