package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/Rajchodisetti/futures-feed/internal/app"
	"github.com/Rajchodisetti/futures-feed/internal/config"
	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/resolver"
)

func main() {
	var cfgPath string
	var secType, exchange, currency string
	var month string
	var configure string
	var asJSON, refresh bool
	var timeout time.Duration
	flag.StringVar(&cfgPath, "config", "", "config path (defaults are used when empty)")
	flag.StringVar(&secType, "sectype", resolver.DefaultSecType, "security type")
	flag.StringVar(&exchange, "exchange", resolver.DefaultExchange, "exchange")
	flag.StringVar(&currency, "currency", resolver.DefaultCurrency, "currency")
	flag.StringVar(&month, "month", "", "print only the contract for this month (e.g. 202603, MAR26)")
	flag.StringVar(&configure, "configure", "", "contract id to mark as configured after the search")
	flag.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	flag.BoolVar(&refresh, "refresh", false, "bypass the local contract cache")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: contract-search [flags] [SYMBOL]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	symbol := "MES"
	if flag.NArg() > 0 {
		symbol = flag.Arg(0)
	}

	_ = godotenv.Load()
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	// Quotes are never fetched here; keep the chain offline.
	os.Setenv("QUOTES", "synthetic")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	if err := run(ctx, a, os.Stdout, options{
		query:     resolver.Query{Symbol: symbol, SecType: secType, Exchange: exchange, Currency: currency},
		month:     month,
		configure: configure,
		json:      asJSON,
		refresh:   refresh,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "contract-search: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}

type options struct {
	query     resolver.Query
	month     string
	configure string
	json      bool
	refresh   bool
}

func run(ctx context.Context, a *app.App, out io.Writer, opts options) error {
	if opts.month != "" {
		c, err := a.Resolver.ContractForMonth(ctx, opts.query.Symbol, opts.month)
		if err != nil {
			return err
		}
		return render(out, []market.Contract{c}, opts.json)
	}

	resolve := a.Resolver.Resolve
	if opts.refresh {
		resolve = a.Resolver.Refresh
	}
	res, err := resolve(ctx, opts.query)
	if err != nil {
		if errors.Is(err, market.ErrNoContractsFound) {
			return fmt.Errorf("no %s contracts found: %w", opts.query.Symbol, err)
		}
		return err
	}
	if err := render(out, res.Contracts, opts.json); err != nil {
		return err
	}
	if !opts.json {
		src := res.Source
		if res.FromCache {
			src = "cache"
		}
		fmt.Fprintf(out, "\n%d contracts (%s, %d enriched)\n", len(res.Contracts), src, res.Enriched)
	}

	if opts.configure != "" {
		if err := a.Store.Configure(ctx, opts.configure); err != nil {
			return fmt.Errorf("configure %s: %w", opts.configure, err)
		}
		fmt.Fprintf(os.Stderr, "configured %s\n", opts.configure)
	}
	return nil
}

func render(out io.Writer, contracts []market.Contract, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(contracts)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOL\tMONTH\tEXPIRES\tEXCHANGE\tMULTIPLIER\tCONFIGURED\tDESCRIPTION")
	for _, c := range contracts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
			c.ID, c.Symbol, dash(c.ContractMonth), dash(c.ExpirationDate), c.Exchange,
			c.Multiplier, c.IsConfigured, c.Description)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
