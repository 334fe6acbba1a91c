package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/meshbridge/internal/channels"
	"github.com/danmuck/meshbridge/internal/channels/boltstore"
	"github.com/danmuck/meshbridge/internal/config"
	"github.com/danmuck/meshbridge/internal/decrypt"
	"github.com/danmuck/meshbridge/internal/protocol/schema"
	"github.com/spf13/cobra"
)

type decodeOutput struct {
	Success   bool           `json:"success"`
	Channel   string         `json:"channel,omitempty"`
	Port      string         `json:"port,omitempty"`
	Attempted int            `json:"attempted"`
	Payload   schema.Payload `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func newDecodeCommand() *cobra.Command {
	var (
		storePath string
		packetID  uint32
		from      uint32
		hint      int
		channelID string
	)
	cmd := &cobra.Command{
		Use:   "decode <ciphertext-base64>",
		Short: "Trial-decrypt one packet body against the stored channel keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := base64.StdEncoding.DecodeString(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("ciphertext is not valid base64: %w", err)
			}
			store, err := boltstore.Open(storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			cache := channels.NewCache(store, channels.DefaultConfig())
			if err := cache.Refresh(cmd.Context()); err != nil {
				return err
			}
			dec := decrypt.New(decrypt.DefaultConfig(), cache, schema.Default())
			defer dec.Wait()

			var res decrypt.Result
			switch {
			case channelID != "":
				res = dec.TryDecryptWithChannel(cmd.Context(), ct, packetID, from, channelID)
			case hint >= 0 && hint <= 0xFF:
				h := uint8(hint)
				res = dec.TryDecrypt(cmd.Context(), ct, packetID, from, &h)
			default:
				res = dec.TryDecrypt(cmd.Context(), ct, packetID, from, nil)
			}

			out := decodeOutput{Success: res.Success, Channel: res.ChannelID, Attempted: res.Attempted}
			if res.Success {
				out.Port = res.PortNum.String()
				out.Payload = res.Data.Decoded
			} else {
				out.Error = res.Err.Error()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&storePath, "store", defaultStorePath, "channel store path")
	cmd.Flags().Uint32Var(&packetID, "packet-id", 0, "packet id from the envelope")
	cmd.Flags().Uint32Var(&from, "from", 0, "sender node number")
	cmd.Flags().IntVar(&hint, "hint", -1, "channel hash hint (0-255)")
	cmd.Flags().StringVar(&channelID, "channel", "", "decrypt with one channel id only")
	return cmd
}

func newSealCommand() *cobra.Command {
	var (
		storePath string
		packetID  uint32
		from      uint32
		channelID string
	)
	cmd := &cobra.Command{
		Use:   "seal <text>",
		Short: "Encrypt a text message the way a radio on the channel would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := boltstore.Open(storePath)
			if err != nil {
				return err
			}
			defer store.Close()
			sc, err := store.Get(cmd.Context(), channelID)
			if err != nil {
				return err
			}
			ck, err := channels.ParseKey(sc)
			if err != nil {
				return err
			}
			plain, err := schema.Default().EncodeData(schema.Data{
				PortNum: schema.PortTextMessage,
				Payload: []byte(args[0]),
			})
			if err != nil {
				return err
			}
			ct, err := decrypt.Encrypt(ck.Key, packetID, from, plain)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nhash=%d\n", base64.StdEncoding.EncodeToString(ct), decrypt.ChannelHash(ck.Name, ck.Key))
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", defaultStorePath, "channel store path")
	cmd.Flags().Uint32Var(&packetID, "packet-id", 1, "packet id to seal under")
	cmd.Flags().Uint32Var(&from, "from", 1, "sender node number")
	cmd.Flags().StringVar(&channelID, "channel", "", "channel id whose key seals the text")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func newInitCommand() *cobra.Command {
	var (
		kind  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a starter config (meshbridge) or channel seed file (channels)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "meshbridge", "template kind: meshbridge or channels")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
