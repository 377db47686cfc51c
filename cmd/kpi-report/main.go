package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"Go2NetKPI/internal/report"
)

func main() {
	latencyBudget := flag.Float64("latency-budget", 0, "Highlight flows whose mean latency exceeds this many ms (0 disables).")
	noColor := flag.Bool("no-color", false, "Disable colored output.")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: kpi-report [flags] <raw_kpi_log.json>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if *noColor {
		color.NoColor = true
	}

	sum, err := report.SummarizeFile(flag.Arg(0))
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printSummary(color.Output, sum, *latencyBudget)
}

func printSummary(w io.Writer, sum *report.Summary, latencyBudget float64) {
	header := color.New(color.FgCyan, color.Bold)
	warn := color.New(color.FgRed, color.Bold)
	ok := color.New(color.FgGreen)
	note := color.New(color.FgYellow)

	header.Fprintf(w, "%d records, %d flows\n", sum.Records, len(sum.Flows))
	if len(sum.Flows) == 0 {
		return
	}
	header.Fprintf(w, "%-6s %-6s %-16s %-16s %-6s %-7s %-24s %-24s\n",
		"FLOW", "SLICE", "SRC", "DST", "PORT", "SAMPLES", "LATENCY ms min/avg/max", "THROUGHPUT Mbps avg/last")

	extended := false
	for _, f := range sum.Flows {
		latency := fmt.Sprintf("%.3f/%.3f/%.3f", f.Latency.Min, f.Latency.Mean(), f.Latency.Max)
		throughput := fmt.Sprintf("%.3f/%.3f", f.Throughput.Mean(), f.Throughput.Last)
		fmt.Fprintf(w, "%-6d %-6s %-16s %-16s %-6d %-7d ", f.FlowID, f.Slice, f.Src, f.Dst, f.Port, f.Samples)
		if latencyBudget > 0 && f.Latency.Mean() > latencyBudget {
			warn.Fprintf(w, "%-24s", latency)
		} else {
			ok.Fprintf(w, "%-24s", latency)
		}
		fmt.Fprintf(w, " %-24s\n", throughput)
		extended = extended || f.Extended
	}
	if extended {
		note.Fprintf(w, "jitter_ms and packet_loss in this log are fixed placeholders (%g, %g), not measurements.\n",
			sum.Flows[0].JitterMs, sum.Flows[0].PacketLoss)
	}
}
