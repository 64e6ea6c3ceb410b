package main

import "partcad/internal/cli"

func main() {
	cli.Execute()
}
