package main

import "github.com/recapworks/recapd/cmd"

func main() {
	cmd.Execute()
}
