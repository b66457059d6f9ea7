// Command figflow turns Figma designs into frontend code with a team of
// LLM workers.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
