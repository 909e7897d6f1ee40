// Command taskrunnerd runs the AIOpsLab task dispatch engine: its HTTP
// API, in-process worker loops, and background sweeper.
package main

import "github.com/aiopslab/taskrunner/internal/cliapp"

func main() {
	cliapp.Execute()
}
