package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/parcel-linkage/internal/cache"
	"github.com/parcel-linkage/internal/db"
	"github.com/parcel-linkage/internal/geocode"
	"github.com/parcel-linkage/internal/logger"
	"github.com/parcel-linkage/internal/normalize"
	"github.com/parcel-linkage/internal/spatial"
	"github.com/parcel-linkage/internal/store"
)

func createGeocodeCmd() *cobra.Command {
	var municipality string
	cmd := &cobra.Command{
		Use:   "geocode [address]",
		Short: "Geocode one address through the cache and providers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cache.Open[geocode.Result](filepath.Join(cfg.Paths.CacheDir, "geocode.jsonl"))
			if err != nil {
				return err
			}
			defer c.Flush()

			g := geocode.NewFromConfig(cfg.Geocoder, c, logger.Named("geocode"), nil)
			res, err := g.Geocode(cmd.Context(), args[0], municipality)
			if err != nil {
				return err
			}
			if res.NotFound {
				fmt.Printf("%s: not found\n", args[0])
				return nil
			}
			fmt.Printf("%s: %.6f, %.6f (%s via %q)\n", args[0], res.Lon, res.Lat, res.Provider, res.Query)
			return nil
		},
	}
	cmd.Flags().StringVarP(&municipality, "municipality", "m", "", "municipality the address is in")
	return cmd
}

func createNormalizeCmd() *cobra.Command {
	var name bool
	cmd := &cobra.Command{
		Use:   "normalize [text]",
		Short: "Print the normalized key for an address or owner name",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if name {
				fmt.Println(normalize.Name(args[0]))
				return
			}
			key := normalize.Address(args[0])
			c := normalize.ParseComponents(args[0])
			fmt.Println(key)
			fmt.Printf("  house number: %s\n  street:       %s\n", normalize.HouseNumber(key), normalize.StreetName(key))
			if c.Road != "" {
				fmt.Printf("  parsed:       %s\n", c.StreetLine())
			}
		},
	}
	cmd.Flags().BoolVar(&name, "name", false, "normalize as an owner name")
	return cmd
}

func createVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [municipality]",
		Short: "Count canonical records for a municipality",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			n, err := store.NewPostgresStore(conn.DB).Count(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s canonical records\n", args[0], humanize.Comma(int64(n)))
			return nil
		},
	}
}

func createMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the canonical_property table",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := store.Migrate(cmd.Context(), conn.DB); err != nil {
				return err
			}
			fmt.Println("✓ schema applied")
			return nil
		},
	}
}

func createCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the persistent geocode and spatial caches",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show entry counts per cache file",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Cache", "Entries", "Detail", "Size"})

			geo, err := cache.Open[geocode.Result](filepath.Join(cfg.Paths.CacheDir, "geocode.jsonl"))
			if err != nil {
				return err
			}
			notFound := 0
			for _, r := range geo.Snapshot() {
				if r.NotFound {
					notFound++
				}
			}
			table.Append([]string{"geocode", humanize.Comma(int64(geo.Len())),
				humanize.Comma(int64(notFound)) + " not found", fileSize(filepath.Join(cfg.Paths.CacheDir, "geocode.jsonl"))})

			files, _ := filepath.Glob(filepath.Join(cfg.Paths.CacheDir, "spatial-*.jsonl"))
			sort.Strings(files)
			for _, f := range files {
				sc, err := cache.Open[spatial.Match](f)
				if err != nil {
					return err
				}
				name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(f), "spatial-"), ".jsonl")
				table.Append([]string{"spatial " + name, humanize.Comma(int64(sc.Len())), "", fileSize(f)})
			}
			table.Render()
			return nil
		},
	})
	return cacheCmd
}

func fileSize(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return "-"
	}
	return humanize.Bytes(uint64(fi.Size()))
}
