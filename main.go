package main

import "github.com/frahmantamala/adride-payments/cmd"

func main() {
	cmd.Execute()
}
