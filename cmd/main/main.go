package main

import (
	"climatology/harvester/internal/cmd"
)

func main() {
	cmd.Execute()
}
