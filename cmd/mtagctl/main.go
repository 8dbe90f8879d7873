// Command mtagctl drives the profiler core from outside the profiled
// process: a demo scope driver, a collector for on-demand stats, a
// ticker-driven snapshot runner, and the postprocess/dot external
// collaborators.
package main

import "github.com/malloctag/mtag/cmd/mtagctl/cmd"

func main() {
	cmd.Execute()
}
