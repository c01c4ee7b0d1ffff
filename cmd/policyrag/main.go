// Command policyrag serves hybrid retrieval over a policy-document corpus and builds
// the index snapshots it serves.
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
