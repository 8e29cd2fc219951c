// Command fog-gateway runs the Fog Gateway edge processing daemon.
package main

import (
	"github.com/greenhouse-systems/fog-gateway/cmd"
)

var version = "dev"

func main() {
	cmd.Execute(version)
}
