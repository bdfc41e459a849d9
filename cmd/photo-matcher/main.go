package main

import "github.com/withObsrvr/photo-matcher/internal/cli"

func main() {
	cli.Execute()
}
