package main

import "github.com/trace-pprof/cmd/traceconv/cmd"

func main() {
	cmd.Execute()
}
