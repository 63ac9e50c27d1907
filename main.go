package main

import "github.com/ronakch1234/payment-reconciler/cmd"

func main() {
	cmd.Execute()
}
