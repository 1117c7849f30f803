package main

import "wspreset/cmd/wspreset/command"

func main() {
	command.Execute()
}
