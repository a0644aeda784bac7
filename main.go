package main

import "github.com/nextlevelbuilder/luxbot/cmd"

func main() {
	cmd.Execute()
}
