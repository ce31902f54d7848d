package main

import "taskchat/cmd/taskchat/cmd"

func main() {
	cmd.Execute()
}
