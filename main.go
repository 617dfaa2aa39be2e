package main

import "github.com/bnema/xpinstall/cmd"

func main() {
	cmd.Execute()
}
