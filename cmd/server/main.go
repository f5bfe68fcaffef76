package main

import "github.com/eventboard/server/cmd/server/cmd"

func main() {
	cmd.Execute()
}
