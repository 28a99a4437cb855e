// Command destinyctl resolves birth data and runs the built-in engines locally,
// without a database or the report cache.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
