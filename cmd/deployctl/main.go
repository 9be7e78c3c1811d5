// Command deployctl drives a deployd daemon over its HTTP API.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		(&ui{out: os.Stdout, err: os.Stderr}).Error(err.Error())
		os.Exit(1)
	}
}
