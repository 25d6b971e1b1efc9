// Command lmsy-ingest runs the LMSY archive ingestion service and its tools.
package main

import (
	"github.com/Athena-vivi/LMSY.space-sub002/cmd"
)

func main() {
	cmd.Execute()
}
