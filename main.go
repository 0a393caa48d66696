package main

import "github.com/encodeous/trustbgp/cmd"

func main() {
	cmd.Execute()
}
