package main

import "github.com/jeremyhahn/go-trusted-relay/pkg/cmd"

func main() {
	cmd.Execute()
}
