package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	persistlog "voxelportals.ai/internal/persistence/log"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "trace":
			traceCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <state|db|trace> [flags]")
	os.Exit(2)
}

func traceCmd(args []string) {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	dir := fs.String("dir", "./data", "trace directory (as configured by trace.dir)")
	portal := fs.String("portal", "", "portal id filter (optional)")
	_ = fs.Parse(args)

	sums, err := persistlog.Summarize(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "trace:", err)
		os.Exit(1)
	}
	for _, s := range sums {
		if *portal != "" && s.Portal != *portal {
			continue
		}
		printJSON(s)
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
