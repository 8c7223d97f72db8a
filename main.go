// Package main is the entry point for the semtaint CLI.
package main

import "semtaint.dev/pkg/semtaint/cmd"

func main() {
	cmd.Execute()
}
