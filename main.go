package main

import "github.com/nextlevelbuilder/edugate/cmd"

func main() {
	cmd.Execute()
}
