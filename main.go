package main

import "github.com/naka-gawa/whatsup/cmd"

func main() {
	cmd.Execute()
}
