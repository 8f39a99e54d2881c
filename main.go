package main

import "github.com/karthikraju391/campus-chat/cmd"

func main() {
	cmd.Execute()
}
