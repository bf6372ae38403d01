package main

import (
	"github.com/yiping-allison/tidygraph-py/cmd"
)

func main() {
	cmd.Execute()
}
