// authctl is the operator CLI for the hivegate token issuer.
package main

import "go.pilab.hu/hivegate/cmd/authctl/cmd"

func main() {
	cmd.Execute()
}
