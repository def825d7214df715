package main

import (
	"github.com/atendezap/zapdesk/cmd"
)

func main() {
	cmd.Execute()
}
