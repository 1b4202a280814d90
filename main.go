package main

import "github.com/deploymenttheory/go-ntfsbox/cmd"

func main() {
	cmd.Execute()
}
