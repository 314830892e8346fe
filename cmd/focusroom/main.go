package main

import "focusroom/internal/cli"

func main() {
	cli.Execute()
}
