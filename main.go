package main

import "github.com/pathvec/pathrtr/cmd"

func main() {
	cmd.Execute()
}
