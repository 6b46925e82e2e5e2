package main

import "github.com/MeKo-Tech/endzone/cmd/endzone/cmd"

func main() {
	cmd.Execute()
}
