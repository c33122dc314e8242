package main

import "github.com/pyth-watch/publisher-monitor/cmd/publisher-monitor/cmd"

func main() {
	cmd.Execute()
}
