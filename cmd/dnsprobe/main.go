// Command dnsprobe resolves a single hostname through the pool-ns
// resolver and prints the resulting addresses, a small diagnostic
// companion to the library rather than a production tool.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/classmarkets/pool-ns-resolver/config"
	"github.com/classmarkets/pool-ns-resolver/httpdoh"
	"github.com/classmarkets/pool-ns-resolver/resolver"
	"github.com/classmarkets/pool-ns-resolver/wire"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to a JSON file with a top-level \"dns\" object (optional)")
		timeout = flag.Duration("timeout", 5*time.Second, "overall timeout for the lookup")
		verbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: dnsprobe [-config file] [-timeout dur] [-v] <hostname>")
		os.Exit(2)
	}
	host := flag.Arg(0)

	if *verbose {
		resolver.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg := config.Default()
	if *cfgPath != "" {
		data, err := os.ReadFile(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "dnsprobe:", err)
			os.Exit(1)
		}

		var wrapper struct {
			DNS config.DNSConfig `json:"dns"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			fmt.Fprintln(os.Stderr, "dnsprobe:", err)
			os.Exit(1)
		}
		cfg = wrapper.DNS
	}

	reg := resolver.NewRegistry(cfg, httpdoh.New())

	type result struct {
		records wire.RecordSet
		status  int
		errMsg  string
	}
	resultCh := make(chan result, 1)

	req := reg.Resolve(host, func(records wire.RecordSet, status int, errMsg string) {
		resultCh <- result{records, status, errMsg}
	})

	select {
	case r := <-resultCh:
		if *verbose {
			if t := req.Trace(); t != nil {
				fmt.Fprint(os.Stderr, t.Dump())
			}
		}
		if r.status != 0 {
			fmt.Fprintln(os.Stderr, "dnsprobe:", r.errMsg)
			os.Exit(1)
		}
		for _, rec := range r.records.All() {
			fmt.Println(rec.IP)
		}
	case <-time.After(*timeout):
		fmt.Fprintln(os.Stderr, "dnsprobe: timed out")
		os.Exit(1)
	}
}
