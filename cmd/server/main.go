package main

import "github.com/Togather-Foundation/catalog/cmd/server/cmd"

func main() {
	cmd.Execute()
}
