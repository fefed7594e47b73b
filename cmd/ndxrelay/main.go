package main

import (
	_ "time/tzdata"

	"ndx-relay/internal/cli"
)

func main() {
	cli.Execute()
}
