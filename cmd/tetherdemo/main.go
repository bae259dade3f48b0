// Command tetherdemo runs the parent/child fan-out scenario: a parent queue
// whose jobs each spawn children on a single-slot child queue, suspend
// until every child is done, and finish.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
