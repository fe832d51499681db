package main

import "github.com/audiolibrelab/voxcollect/cmd"

func main() {
	cmd.Execute()
}
