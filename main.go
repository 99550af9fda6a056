// The main package for the clinic-crawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/clinic-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
