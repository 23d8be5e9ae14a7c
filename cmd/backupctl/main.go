package main

import "example.com/backuprestore/internal/cli"

func main() {
	cli.Execute()
}
