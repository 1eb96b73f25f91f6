package main

import "github.com/bend-n/panel/cmd"

func main() {
	cmd.Execute()
}
