package main

import "github.com/andresmejia3/facecensus/cmd"

func main() {
	cmd.Execute()
}
