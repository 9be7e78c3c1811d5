// Command deployd is the remote orchestration daemon. It manages sharded,
// replicated worker deployments and serves the lifecycle API over HTTP.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
