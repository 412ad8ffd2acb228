package main

import "github.com/ghyeongl/scribe-relay/cmd"

func main() {
	cmd.Execute()
}
