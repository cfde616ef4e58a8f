package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "genkeys":
		return runGenKeys(args[2:])
	case "register":
		return runRegister(args[2:])
	case "upload":
		return runUpload(args[2:])
	case "status":
		return runStatus(args[2:])
	case "retry":
		return runRetry(args[2:])
	case "verify":
		return runVerifySerial(args[2:])
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "factoryctl"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s genkeys --out-key <file> [--out-pub <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s register --url <base> --factory <name> --pub <file>\n", name)
	fmt.Fprintf(os.Stderr, "  %s upload --url <base> --factory <name> --key <file> --in <csv> [--batch-id <id>] [--chunk-index <n> --total-chunks <n>] [--test-runs <n>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s status --url <base> --factory <name>\n", name)
	fmt.Fprintf(os.Stderr, "  %s retry --url <base> --factory <name> --key <file> [--batch-id <id>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s verify --url <base> --sn <serial>\n", name)
}
