package main

import "eino_counsel/internal/cmd"

func main() {
	cmd.Execute()
}
