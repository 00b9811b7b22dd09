package main

import "coderag/cmd"

func main() {
	cmd.Execute()
}
