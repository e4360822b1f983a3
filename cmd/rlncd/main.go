// Command rlncd runs one RLNC coding daemon against a batman-adv mesh
// interface: it dials the batman_adv generic-netlink family, wires the
// encoder/decoder/recoder/helper roles into a dispatcher, and runs
// until SIGINT/SIGTERM. Grounded on the reference design's fox.cpp
// main().
package main

import (
	"fmt"
	"os"

	"github.com/batmesh/rlncd/internal/daemon"
)

func main() {
	cfg, err := daemon.ParseFlags("rlncd", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
