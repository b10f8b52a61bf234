package main

import "contribtrack/cmd"

func main() {
	cmd.Execute()
}
