// Command sitecache is the operator tool for the site's shared cache layer:
// connectivity checks, key statistics, invalidation, rate limit and session
// inspection, and a metrics endpoint.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
