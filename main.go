package main

import "github.com/andresmejia3/echoface/cmd"

func main() {
	cmd.Execute()
}
