// Command gamelinkd runs the game link transports from a configuration
// file and offers one-shot commands for sending, inviting and pinging.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
