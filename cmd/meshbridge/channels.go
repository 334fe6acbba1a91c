package main

import (
	"encoding/base64"
	"fmt"
	"text/tabwriter"

	"github.com/danmuck/meshbridge/internal/channels/boltstore"
	"github.com/danmuck/meshbridge/internal/config"
	"github.com/danmuck/meshbridge/internal/decrypt"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newChannelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage the channel key store",
	}
	cmd.AddCommand(newChannelsImportCommand(), newChannelsListCommand(), newChannelsDeleteCommand())
	return cmd
}

func newChannelsImportCommand() *cobra.Command {
	var storePath string
	cmd := &cobra.Command{
		Use:   "import <seed.toml>",
		Short: "Load channel keys from a TOML seed file into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := config.LoadSeedFile(args[0])
			if err != nil {
				return err
			}
			entries, err := config.StoredChannels(seed)
			if err != nil {
				return err
			}
			store, err := boltstore.Open(storePath)
			if err != nil {
				return err
			}
			defer store.Close()
			for _, entry := range entries {
				if err := store.Put(cmd.Context(), entry); err != nil {
					return err
				}
				log.Debug().Str("channel", entry.ID).Bool("enabled", entry.Enabled).Msg("channel imported")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d channels into %s\n", len(entries), storePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", defaultStorePath, "channel store path")
	return cmd
}

func newChannelsListCommand() *cobra.Command {
	var storePath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := boltstore.Open(storePath)
			if err != nil {
				return err
			}
			defer store.Close()
			list, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENABLED\tKEY\tHASH\tDECRYPTED")
			for _, ch := range list {
				hash := "-"
				if key, err := base64.StdEncoding.DecodeString(ch.KeyB64); err == nil {
					hash = fmt.Sprintf("%d", decrypt.ChannelHash(ch.Name, key))
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\t%d\n", ch.ID, ch.Name, ch.Enabled, ch.KeyLen*8, hash, ch.Decrypted)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&storePath, "store", defaultStorePath, "channel store path")
	return cmd
}

func newChannelsDeleteCommand() *cobra.Command {
	var storePath string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a channel from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := boltstore.Open(storePath)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", defaultStorePath, "channel store path")
	return cmd
}
