/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/realtimebid/auctionserver/config"
	"github.com/realtimebid/auctionserver/internal/db"
	"github.com/realtimebid/auctionserver/internal/store"
	"github.com/realtimebid/auctionserver/types"
)

// seedCmd loads a handful of users and auctions for local development,
// activating the auctions whose start time has already passed; the
// rest stay PENDING. Seeding example data is a developer convenience, not
// part of the core system, so it lives entirely in this command and
// touches nothing the server itself depends on.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load example users and auctions for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		ctx := cmd.Context()

		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("seed: open store: %w", err)
		}
		defer conn.Close()

		users := store.NewUserRepository(conn)
		auctions := store.NewAuctionRepository(conn)

		seedUsers := []types.User{
			{Username: "alice", Email: "alice@example.com", Role: "admin"},
			{Username: "bob", Email: "bob@example.com", Role: "user"},
			{Username: "carol", Email: "carol@example.com", Role: "user"},
		}

		created := make([]types.User, 0, len(seedUsers))
		for _, u := range seedUsers {
			if existing, err := users.GetByUsername(ctx, u.Username); err == nil {
				created = append(created, existing)
				continue
			}
			hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("seed: hash password for %s: %w", u.Username, err)
			}
			u.PasswordHash = string(hashed)
			user, err := users.Create(ctx, u)
			if err != nil {
				return fmt.Errorf("seed: create user %s: %w", u.Username, err)
			}
			created = append(created, user)
			fmt.Fprintf(os.Stdout, "seeded user %s (id=%d)\n", user.Username, user.ID)
		}

		now := time.Now()
		seedAuctions := []types.Auction{
			{
				Title:       "1967 Shelby GT500",
				Description: "Restored big-block Shelby, two prior owners",
				CarID:       "CAR-1967-GT500",
				StartingBid: 5_000_000,
				StartTime:   now.Add(-1 * time.Hour),
				EndTime:     now.Add(23 * time.Hour),
			},
			{
				Title:       "1994 Toyota Supra Turbo",
				Description: "Targa top, factory turbo, 5-speed manual",
				CarID:       "CAR-1994-SUPRA",
				StartingBid: 3_500_000,
				StartTime:   now.Add(-30 * time.Minute),
				EndTime:     now.Add(47*time.Hour + 30*time.Minute),
			},
			{
				Title:       "2005 Porsche Carrera GT",
				Description: "One of a handful imported that year",
				CarID:       "CAR-2005-CGT",
				StartingBid: 40_000_000,
				StartTime:   now.Add(1 * time.Hour),
				EndTime:     now.Add(25 * time.Hour),
			},
		}

		for _, a := range seedAuctions {
			auction, err := auctions.Create(ctx, a)
			if err != nil {
				return fmt.Errorf("seed: create auction %s: %w", a.Title, err)
			}
			if !auction.StartTime.After(now) {
				if err := auctions.Activate(ctx, auction.ID); err != nil {
					return fmt.Errorf("seed: activate auction %s: %w", a.Title, err)
				}
			}
			fmt.Fprintf(os.Stdout, "seeded auction %q (id=%d)\n", auction.Title, auction.ID)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
