package main

import "github.com/ValentinKolb/dCCL/cmd"

func main() {
	cmd.Execute()
}
