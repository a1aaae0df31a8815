// Command linecache benchmarks, monitors, and verifies a block cache.
package main

import "github.com/sarchlab/linecache/cmd"

func main() {
	cmd.Execute()
}
