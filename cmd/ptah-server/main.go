package main

import "github.com/oshokin/ptah/cmd/ptah-server/cmd"

func main() {
	cmd.Execute()
}
