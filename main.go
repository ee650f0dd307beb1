// The main package for the crs-etl executable.
package main

import (
	"github.com/JakeFAU/crs-draws-etl/cmd"
)

func main() {
	cmd.Execute()
}
