package main

import (
	"log"

	"culturepass/cmd"

	_ "time/tzdata"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
