package main

import "github.com/cladehq/clade/cmd"

func main() {
	cmd.Execute()
}
