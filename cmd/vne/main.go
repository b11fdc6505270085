// Command vne loads a substrate network and virtual network requests from a
// scenario file, embeds the requests and reports the result.
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
