package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/proxy"
)

func newProxyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Manage the stored proxy pool",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add URL...",
			Short: "Add or replace proxies given as scheme://[user:pass@]host:port",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runProxyAdd,
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored proxies with their usage state",
			Args:  cobra.NoArgs,
			RunE:  runProxyList,
		},
	)
	return cmd
}

func runProxyAdd(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	// Parse everything first so a typo does not leave a partial pool.
	proxies := make([]proxy.Proxy, 0, len(args))
	for _, raw := range args {
		p, err := proxy.ParseURL(raw)
		if err != nil {
			return err
		}
		proxies = append(proxies, p)
	}
	for _, p := range proxies {
		if err := appInstance.Store().SaveProxy(cmd.Context(), p); err != nil {
			return fmt.Errorf("save proxy %s: %w", p.Key(), err)
		}
		appInstance.Logger().Info("proxy saved", zap.String("proxy", p.Key()))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d proxies saved\n", len(proxies))
	return nil
}

func runProxyList(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	proxies, err := appInstance.Store().LoadProxies(cmd.Context())
	if err != nil {
		return fmt.Errorf("load proxies: %w", err)
	}
	table := uitable.New()
	table.AddRow("PROXY", "ACTIVE", "ATTEMPTS", "LAST USE")
	for _, p := range proxies {
		lastUse := "never"
		if p.LastUse != nil {
			lastUse = humanize.Time(*p.LastUse)
		}
		table.AddRow(p.Key(), p.Active, p.Attempts, lastUse)
	}
	fmt.Fprintln(cmd.OutOrStdout(), table.String())
	return nil
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget all items and stored bodies; proxies are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Store().Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear store: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "state cleared")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the stored crawl state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			records, err := appInstance.Store().Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			tally := crawler.Count(records)
			table := uitable.New()
			table.AddRow("items", humanize.Comma(int64(tally.Total)))
			table.AddRow("allowed", humanize.Comma(int64(tally.Allowed)))
			for _, row := range []struct {
				name string
				c    crawler.PhaseCounts
			}{
				{"download", tally.Download},
				{"process", tally.Process},
				{"write", tally.Write},
			} {
				table.AddRow(row.name, fmt.Sprintf("%s ok, %s failed, %s pending",
					humanize.Comma(int64(row.c.Success)),
					humanize.Comma(int64(row.c.Failure)),
					humanize.Comma(int64(row.c.Unset))))
			}
			fmt.Fprintln(cmd.OutOrStdout(), table.String())
			return nil
		},
	}
}
