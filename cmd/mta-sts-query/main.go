// Command mta-sts-query is the ad-hoc lookup CLI of §6: it drives
// internal/resolver directly (no running daemon, no cache) and prints the
// resolved status and policy as JSON, colorized when stdout is a terminal
// (the teacher's jsoncolor pattern from its "-query" flag handler).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/neilotoole/jsoncolor"

	"github.com/sts-resolver/daemon/internal/resolver"
)

const queryTimeout = 10 * time.Second

type queryResult struct {
	Domain string               `json:"domain"`
	Status string               `json:"status"`
	ID     string               `json:"id,omitempty"`
	Policy *resolver.PolicyBody `json:"policy,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: mta-sts-query <domain> [<known_version>]")
		os.Exit(1)
	}
	domain := os.Args[1]
	knownID := ""
	if len(os.Args) > 2 {
		knownID = os.Args[2]
	}

	dnsServer := resolver.SystemDNSServer(resolver.DefaultResolvConfPath)
	r := resolver.New(dnsServer, queryTimeout, "mta-sts-query")
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	status, result, err := r.Resolve(ctx, domain, knownID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mta-sts-query: %v\n", err)
	}

	out := queryResult{Domain: domain, Status: status.String()}
	if result != nil {
		out.ID = result.ID
		out.Policy = result.Body
	}

	if printErr := printResult(out); printErr != nil {
		fmt.Fprintf(os.Stderr, "mta-sts-query: %v\n", printErr)
		os.Exit(1)
	}

	if status == resolver.StatusFetchError {
		os.Exit(1)
	}
}

func printResult(out queryResult) error {
	stat, err := os.Stdout.Stat()
	if err == nil && (stat.Mode()&os.ModeCharDevice) != 0 {
		enc := jsoncolor.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetColors(jsoncolor.DefaultColors())
		return enc.Encode(out)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
