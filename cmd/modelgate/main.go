// Package main is the entry point for modelgate.
package main

func main() {
	Execute()
}
