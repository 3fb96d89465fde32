package main

import "github.com/Tyrowin/pairchat/cmd/pairchat/cmd"

func main() {
	cmd.Execute()
}
