package main

import "github.com/glcs-go/recorder/cmd/recorder/commands"

func main() {
	commands.Execute()
}
