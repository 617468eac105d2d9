package main

import "github.com/kodalabs/koda/cmd"

func main() {
	cmd.Execute()
}
