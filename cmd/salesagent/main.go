package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow stubbing in tests.
var startServer = runServer

// Run dispatches the subcommand. It is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return startServer(stdout, stderr)
	case "migrate":
		return runMigrateCmd(stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

const version = "1.0.0"

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: salesagent <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  server   Run the order orchestration server (default)")
	fmt.Fprintln(w, "  migrate  Create or update database tables and exit")
	fmt.Fprintln(w, "  doctor   Check the local environment")
	fmt.Fprintln(w, "  health   Probe a running server's health endpoint")
	fmt.Fprintln(w, "  token    Mint a development JWT for the configured secret")
	fmt.Fprintln(w, "  version  Print the version")
}

func runHealthCmd(stdout, stderr io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	resp, err := http.Get("http://localhost:" + port + "/v1/health")
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}
