package main

import (
	"log"

	"smsrelay/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Fatalf("smsrelay: %v", err)
	}
}
