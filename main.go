package main

import "meetsync/cmd"

func main() {
	cmd.Execute()
}
