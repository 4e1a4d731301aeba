package main

import "scrapesched/internal/cli"

func main() {
	cli.Execute()
}
