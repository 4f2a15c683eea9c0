/*
Copyright © 2024 thin-edge.io <info@thin-edge.io>
*/
package main

import "github.com/thin-edge/tedge-c8y-mapper/cmd"

func main() {
	cmd.Execute()
}
