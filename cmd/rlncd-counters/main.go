// Command rlncd-counters dumps every counter an rlncd daemon has
// accumulated in its shared-memory segment, without disturbing the
// running daemon. Grounded on the reference design's tools/counters.cpp.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/batmesh/rlncd/internal/counterstore"
)

func main() {
	path := flag.String("counters_path", "", "Path to the shared-memory counters segment (default: counterstore.DefaultPath)")
	flag.Parse()

	store, err := counterstore.Open(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	for _, c := range store.All() {
		fmt.Printf("%s: %d\n", c.Key, c.Value)
	}
}
