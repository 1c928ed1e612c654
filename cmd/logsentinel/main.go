package main

import "logsentinel/cmd/logsentinel/commands"

func main() {
	commands.Execute()
}
