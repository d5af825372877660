// Command vrm is the gas-sponsored voting relay.
package main

import "votingrelay.mini/vrm/internal/cli"

func main() {
	cli.Execute()
}
