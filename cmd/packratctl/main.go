package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"packrat/internal/catalog"
	"packrat/internal/config"
	"packrat/internal/db"
	"packrat/internal/store"
	"packrat/internal/store/filestore"
	"packrat/internal/store/pgstore"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadCtlFromEnv()

	root := &cobra.Command{
		Use:          "packratctl",
		Short:        "Packrat admin tool",
		SilenceUsage: true,
	}

	root.AddCommand(
		newCatalogCmd(&cfg),
		newGuildCmd(&cfg),
		newInventoryCmd(&cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.CtlConfig) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		// One-shot CLI invocations never need a deep pool.
		pool, err := db.Connect(ctx, db.Config{URL: cfg.DatabaseURL, MaxConns: 2})
		if err != nil {
			return nil, err
		}
		return pgstore.Open(ctx, pool)
	}
	return filestore.Open(cfg.DataDir)
}

func newCatalogCmd(cfg *config.CtlConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog [path]",
		Short: "Validate and list a card catalog file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.CatalogPath
			if len(args) == 1 {
				path = args[0]
			}
			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}
			color.Green("catalog ok: %d cards", cat.Len())
			for _, c := range cat.Cards() {
				marker := " "
				if c.Tier.Stealable() {
					marker = "*"
				}
				fmt.Printf("%s %-28s %-10s weight=%d\n", marker, c.Name, c.Tier, c.Weight)
			}
			fmt.Println("\n* stealable tier")
			return nil
		},
	}
	return cmd
}

func newGuildCmd(cfg *config.CtlConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guild",
		Short: "Inspect and administer guilds",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured guilds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			guilds, err := st.ListGuilds(ctx)
			if err != nil {
				return err
			}
			if len(guilds) == 0 {
				color.Yellow("no guilds configured")
				return nil
			}
			for _, g := range guilds {
				status := color.RedString("pending")
				if g.Approved {
					status = color.GreenString("approved")
				}
				next := "-"
				if !g.NextSpawnAt.IsZero() {
					next = g.NextSpawnAt.Format(time.RFC3339)
				}
				fmt.Printf("%s  %s  channel=%s  next_spawn=%s  immune=%d\n",
					g.GuildID, status, g.SpawnChannelID, next, len(g.StealImmuneList))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "approve <guild-id> <channel-id>",
		Short: "Approve a guild and set its spawn channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			g, err := st.Guild(ctx, args[0])
			if err != nil {
				return err
			}
			g.Approved = true
			g.SpawnChannelID = args[1]
			if g.NextSpawnAt.IsZero() {
				g.NextSpawnAt = time.Now().UTC().Add(time.Minute)
			}
			if err := st.SaveGuild(ctx, g); err != nil {
				return err
			}
			color.Green("guild %s approved, spawning into %s", args[0], args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "allow <guild-id> [card ...]",
		Short: "Restrict spawns in a guild to the named cards (no cards clears the list)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			cards := args[1:]
			if cat, err := catalog.Load(cfg.CatalogPath); err == nil {
				for _, name := range cards {
					if _, ok := cat.ByName(name); !ok {
						color.Yellow("warning: %q is not in the catalog", name)
					}
				}
			}

			g, err := st.Guild(ctx, args[0])
			if err != nil {
				return err
			}
			g.SpawnAllowList = cards
			if err := st.SaveGuild(ctx, g); err != nil {
				return err
			}
			if len(cards) == 0 {
				color.Green("guild %s spawn allow list cleared", args[0])
			} else {
				color.Green("guild %s restricted to %d card(s)", args[0], len(cards))
			}
			return nil
		},
	})

	return cmd
}

func newInventoryCmd(cfg *config.CtlConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory <user-id>",
		Short: "Show a user's inventory records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			recs, err := st.ListFor(ctx, args[0])
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				color.Yellow("no cards for user %s", args[0])
				return nil
			}
			for _, rec := range recs {
				line := fmt.Sprintf("%-28s %s  acquired=%s", rec.CardName, rec.InstanceID, rec.AcquiredAt.Format(time.RFC3339))
				if rec.Stolen {
					color.Red("%s  [stolen]", line)
				} else {
					fmt.Println(line)
				}
			}
			return nil
		},
	}
}
