// The main package for the sitearchiver executable.
package main

import (
	"github.com/JakeFAU/sitearchiver/cmd"
)

func main() {
	cmd.Execute()
}
