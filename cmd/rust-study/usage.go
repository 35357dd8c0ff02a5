package main

import (
	"fmt"
	"os"
)

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  rust-study [--trace] [--quiet] run <lesson|file.yml|file.rs>")
	fmt.Fprintln(os.Stderr, "  rust-study [--trace] [--quiet] check [lesson|file.yml|file.rs ...]")
	fmt.Fprintln(os.Stderr, "  rust-study lower <file.rs>")
	fmt.Fprintln(os.Stderr, "  rust-study [--trace] repl")
	fmt.Fprintln(os.Stderr, "  rust-study lessons install")
	fmt.Fprintln(os.Stderr, "  rust-study lessons list")
	fmt.Fprintln(os.Stderr, "  rust-study version")
}
