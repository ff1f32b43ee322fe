package main

import "github.com/oshokin/ptah/cmd/ptah-builders/cmd"

func main() {
	cmd.Execute()
}
