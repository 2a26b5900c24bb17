package main

import "mspro-labs/koredoko/cmd"

func main() {
	cmd.Execute()
}
