package main

import "github.com/surge-downloader/surge/cmd"

func main() {
	cmd.Execute()
}
