package main

import "github.com/drgolem/musicengine/cmd"

func main() {
	cmd.Execute()
}
