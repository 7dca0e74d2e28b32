package main

import (
	"fmt"
	"os"
	"strings"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = commandRun(args)
	case "analyze":
		err = commandAnalyze(args)
	case "cleanup":
		err = commandCleanup(args)
	case "quality":
		err = commandQuality(args)
	case "report":
		err = commandReport(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("lbinsight %s\n\n", buildVersion)
	fmt.Print(`Usage:
	lbinsight run [--config file] [--data-dir dir] [--export] [--quality] [--skip-migrate] [--json]
	lbinsight analyze [--config file] [--data-dir dir] [--export] [--json]
	lbinsight cleanup [--config file] [--retention-days N] [--json]
	lbinsight quality [--config file] [--json]
	lbinsight report latest [--api url] [--type comprehensive] [--json]
	lbinsight report list [--api url] [--type comprehensive] [--limit N] [--json]
	lbinsight version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
