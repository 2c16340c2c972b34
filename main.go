// The main package for the frontiercrawler executable.
package main

import (
	"github.com/JakeFAU/frontier-crawler/cmd"
)

// main lets `go run .` behave like cmd/frontiercrawler.
func main() {
	cmd.Execute()
}
