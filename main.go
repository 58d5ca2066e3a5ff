package main

import "github.com/hostbooth/gatescan/cmd"

func main() {
	cmd.Execute()
}
