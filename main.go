package main

import "github.com/castpull/castpull/cmd"

func main() {
	cmd.Execute()
}
