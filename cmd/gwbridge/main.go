package main

import "github.com/DragonSecurity/gwbridge/cmd"

func main() {
	cmd.Execute()
}
