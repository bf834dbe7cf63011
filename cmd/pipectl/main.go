// Command pipectl drives a pipe profile from the command line: it sends requests
// and prints responses, or listens for frames a device pushes on its own.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
