package main

import "github.com/vietddude/voicebatch/internal/cli"

func main() {
	cli.Execute()
}
