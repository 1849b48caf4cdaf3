package main

import "clipmind/cmd"

func main() {
	cmd.Execute()
}
