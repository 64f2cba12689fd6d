// Command udsrpc-client exercises a running server: a short demo of every
// operation, or a stress run that floods the socket.
package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"uds-rpc/client"
	"uds-rpc/config"
	"uds-rpc/transport"
	"uds-rpc/workerpool"
)

func main() {
	app := &cli.App{
		Name:  "udsrpc-client",
		Usage: "call a udsrpc server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
			},
			&cli.StringFlag{
				Name:  "socket",
				Usage: "socket path, overrides the config file",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "per-call timeout, overrides the config file",
			},
		},
		DefaultCommand: "demo",
		Commands: []*cli.Command{
			{
				Name:   "demo",
				Usage:  "run one call per operation and print the results",
				Action: runDemo,
			},
			{
				Name:  "stress",
				Usage: "hammer the server and report throughput",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "requests", Aliases: []string{"n"}, Value: 10000, Usage: "total calls"},
					&cli.IntFlag{Name: "workers", Value: 8, Usage: "submitting workers"},
					&cli.IntFlag{Name: "pool", Value: 4, Usage: "channels in the connection pool"},
				},
				Action: runStress,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func clientConfig(c *cli.Context) (config.ClientConfig, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	if sock := c.String("socket"); sock != "" {
		cfg.Client.SocketPath = sock
	}
	if d := c.Duration("timeout"); d > 0 {
		cfg.Client.CallTimeout = config.Duration(d)
	}
	return cfg.Client, nil
}

func runDemo(c *cli.Context) error {
	cfg, err := clientConfig(c)
	if err != nil {
		return err
	}
	ch := transport.NewChannel(cfg.SocketPath, cfg.CallTimeout.Std())
	defer ch.Close()

	calc := client.NewCalculator(ch)
	clk := client.NewClock(ch)

	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	head := color.New(color.FgCyan, color.Bold).SprintFunc()

	fmt.Println(head("calculator"))
	calls := []struct {
		expr string
		call func() (float64, error)
	}{
		{"10.5 + 5.3", func() (float64, error) { return calc.Add(10.5, 5.3) }},
		{"10.5 - 5.3", func() (float64, error) { return calc.Subtract(10.5, 5.3) }},
		{"6 * 7", func() (float64, error) { return calc.Multiply(6, 7) }},
		{"42 / 4", func() (float64, error) { return calc.Divide(42, 4) }},
		{"42 / 0", func() (float64, error) { return calc.Divide(42, 0) }},
	}
	for _, cse := range calls {
		result, err := cse.call()
		if err != nil {
			fmt.Printf("  %-12s %s\n", cse.expr, bad(err))
			continue
		}
		fmt.Printf("  %-12s = %s\n", cse.expr, ok(fmt.Sprintf("%g", result)))
	}

	fmt.Println(head("clock"))
	now, err := clk.Now()
	if err != nil {
		return err
	}
	fmt.Printf("  now    %s (unix %d)\n", ok(now.Formatted), now.Unix)

	zones, err := clk.Zones()
	if err != nil {
		return err
	}
	for _, name := range slices.Sorted(maps.Keys(zones)) {
		fmt.Printf("  %-6s %s\n", name, ok(zones[name]))
	}
	return nil
}

func runStress(c *cli.Context) error {
	cfg, err := clientConfig(c)
	if err != nil {
		return err
	}
	total := c.Int("requests")

	pool, err := client.NewPool(cfg.SocketPath, c.Int("pool"), cfg.CallTimeout.Std())
	if err != nil {
		return err
	}
	defer pool.Close()
	calc := client.NewCalculator(pool)

	wp, err := workerpool.New(c.Int("workers"))
	if err != nil {
		return err
	}

	var okCount, failCount atomic.Int64
	start := time.Now()
	for i := 0; i < total; i++ {
		i := i
		if err := wp.Submit(func() {
			if _, err := calc.Add(float64(i), 1); err != nil {
				failCount.Add(1)
				return
			}
			okCount.Add(1)
		}); err != nil {
			return err
		}
	}
	wp.Stop()
	elapsed := time.Since(start)

	fmt.Printf("%d calls in %s\n", total, elapsed.Round(time.Millisecond))
	fmt.Printf("  ok      %d\n", okCount.Load())
	if n := failCount.Load(); n > 0 {
		color.Red("  failed  %d", n)
	}
	fmt.Printf("  rate    %.0f calls/s\n", float64(okCount.Load())/elapsed.Seconds())
	return nil
}
