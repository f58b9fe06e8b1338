package main

import "github.com/nextlevelbuilder/clawlink/cmd"

func main() {
	cmd.Execute()
}
