package main

import "github.com/plinthdb/plinth/cmd"

func main() {
	cmd.Execute()
}
