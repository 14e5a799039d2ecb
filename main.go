package main

import "github.com/pgainullin/pa-workflow/cmd"

func main() {
	cmd.Execute()
}
