// Command rlncd-budgets prints the scaled budget, threshold, and credit
// values internal/budget computes for a given generation size and set
// of loss-estimate percentages, for operators tuning --e1/--e2/--e3.
// Grounded on the reference design's tools/budgets.cpp.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/batmesh/rlncd/internal/budget"
	"github.com/batmesh/rlncd/internal/protocol"
)

const fixedOvershoot = 1.06

func usage(arg0 string) {
	fmt.Fprintf(os.Stderr, "Usage:\n  %s <g> <e1> <e2> <e3>\n\n", arg0)
	fmt.Fprintln(os.Stderr, "   g: Generation size")
	fmt.Fprintln(os.Stderr, "  e1: Error probability percentage from source to helper")
	fmt.Fprintln(os.Stderr, "  e2: Error probability percentage from helper to relay")
	fmt.Fprintln(os.Stderr, "  e3: Error probability percentage from source to relay")
	fmt.Fprintln(os.Stderr, "\nExample:\n  ", arg0, "32 10 20 30")
}

// parsePercent reads a 0 < e < 100 percentage and scales it onto the
// 0-255 estimate range, mirroring budgets.cpp's read_arg_error.
func parsePercent(arg string) (uint8, error) {
	e, err := strconv.ParseInt(arg, 0, 64)
	if err != nil || e <= 0 || e >= 100 {
		return 0, fmt.Errorf("invalid link error value (expected 0 < e < 100, but %s was given)", arg)
	}
	return uint8(e * protocol.One / 100), nil
}

func main() {
	if len(os.Args) != 5 {
		fmt.Fprintf(os.Stderr, "invalid number of arguments (expected 4, but %d was given)\n", len(os.Args)-1)
		usage(os.Args[0])
		os.Exit(1)
	}

	g, err := strconv.ParseUint(os.Args[1], 0, 64)
	if err != nil || g == 0 {
		fmt.Fprintf(os.Stderr, "invalid generation size (expected g > 0, but %s was given)\n", os.Args[1])
		os.Exit(1)
	}

	e1, err := parsePercent(os.Args[2])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	e2, err := parsePercent(os.Args[3])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	e3, err := parsePercent(os.Args[4])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf(" g: %d\n", g)
	fmt.Printf("e1: %s/100 (%d/255)\n", os.Args[2], e1)
	fmt.Printf("e2: %s/100 (%d/255)\n", os.Args[3], e2)
	fmt.Printf("e3: %s/100 (%d/255)\n", os.Args[4], e3)

	fmt.Println("Scaled values:")
	label := "rb"
	if budget.RTest(e1, e2, e3) {
		label = "ra"
	}
	fmt.Printf("  %s: %d\n", label, budget.RVal(g, e1, e2, e3))
	fmt.Printf("  Bs: %.2f\n", budget.SourceBudget(g, e1, e2, e3, fixedOvershoot))
	fmt.Printf("  Bh: %d\n", budget.HelperMaxBudget(g, e1, e2, e3, fixedOvershoot))
	fmt.Printf("  Th: %d\n", budget.HelperThreshold(g, e1, e2, e3, 1.0))
	fmt.Printf("  Ch: %.4f\n", budget.HelperCredit(e1, e2, e3))
	fmt.Printf("  Cr: %.4f\n", budget.RecoderCredit(e1, e2, e3))
}
