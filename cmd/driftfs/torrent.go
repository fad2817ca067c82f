package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/internal/torrent"
)

const defaultRPCURL = "http://localhost:9091/transmission/rpc"

type torrentFlags struct {
	rpcURL    string
	username  string
	password  string
	queueSize int64
	logLevel  string
}

func (f *torrentFlags) controller(ctx context.Context) (torrent.Controller, error) {
	cfg := torrent.TransmissionConfig{
		URL:               f.rpcURL,
		Username:          f.username,
		Password:          f.password,
		DownloadQueueSize: f.queueSize,
	}
	return torrent.NewTransmissionClient(ctx, cfg, newLogger(f.logLevel))
}

func newTorrentCommand() *cobra.Command {
	flags := &torrentFlags{}

	cmd := &cobra.Command{
		Use:   "torrent",
		Short: "Control a Transmission daemon",
	}

	rpcDefault := os.Getenv("DRIFTFS_TRANSMISSION_URL")
	if rpcDefault == "" {
		rpcDefault = defaultRPCURL
	}
	cmd.PersistentFlags().StringVar(&flags.rpcURL, "rpc-url", rpcDefault, "Transmission RPC endpoint")
	cmd.PersistentFlags().StringVar(&flags.username, "rpc-user", "", "RPC username")
	cmd.PersistentFlags().StringVar(&flags.password, "rpc-pass", "", "RPC password")
	cmd.PersistentFlags().Int64Var(&flags.queueSize, "queue-size", 0, "download queue size to apply (0 leaves it unchanged)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newTorrentAddCommand(flags),
		newTorrentListCommand(flags),
		newTorrentStopCommand(flags),
		newTorrentRemoveCommand(flags),
		newTorrentStatsCommand(flags),
		newTorrentPeersCommand(flags),
		newTorrentCreateCommand(),
	)
	return cmd
}

func newTorrentAddCommand(flags *torrentFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file.torrent>",
		Short: "Add a torrent from a local .torrent file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.controller(cmd.Context())
			if err != nil {
				return err
			}
			added, err := c.Add(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", added.Name, added.Hash)
			return nil
		},
	}
}

func newTorrentListCommand(flags *torrentFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all torrents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.controller(cmd.Context())
			if err != nil {
				return err
			}
			torrents, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-40s %-14s %7s %12s  %s\n", "NAME", "STATUS", "DONE", "SIZE", "HASH")
			for _, t := range torrents {
				fmt.Fprintf(w, "%-40s %-14s %6.1f%% %12d  %s\n",
					t.Name, t.Status, t.PercentDone*100, t.SizeBytes, t.Hash)
			}
			return nil
		},
	}
}

func newTorrentStopCommand(flags *torrentFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <hash>...",
		Short: "Pause torrents by info hash",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.controller(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.Stop(cmd.Context(), args); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %d torrent(s)\n", len(args))
			return nil
		},
	}
}

func newTorrentRemoveCommand(flags *torrentFlags) *cobra.Command {
	var deleteData bool
	cmd := &cobra.Command{
		Use:   "remove <hash>...",
		Short: "Remove torrents by info hash",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.controller(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.Remove(cmd.Context(), args, deleteData); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d torrent(s)\n", len(args))
			return nil
		},
	}
	cmd.Flags().BoolVar(&deleteData, "delete-data", false, "also delete downloaded files")
	return cmd
}

func newTorrentStatsCommand(flags *torrentFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show session statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.controller(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "torrents: %d total, %d active, %d paused\n",
				stats.TotalTorrents, stats.ActiveTorrents, stats.PausedTorrents)
			fmt.Fprintf(w, "speed: %d B/s down, %d B/s up\n", stats.DownloadSpeed, stats.UploadSpeed)
			fmt.Fprintf(w, "session: %d B down, %d B up, %s active\n",
				stats.Current.DownloadedBytes, stats.Current.UploadedBytes,
				time.Duration(stats.Current.ActiveSeconds)*time.Second)
			fmt.Fprintf(w, "all time: %d B down, %d B up, %d sessions\n",
				stats.Cumulative.DownloadedBytes, stats.Cumulative.UploadedBytes,
				stats.Cumulative.SessionCount)
			return nil
		},
	}
}

func newTorrentPeersCommand(flags *torrentFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "peers <hash>",
		Short: "Show peer summary for a torrent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.controller(cmd.Context())
			if err != nil {
				return err
			}
			peers, err := c.Peers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"connected: %d (limit %d), sending to us: %d, getting from us: %d, webseeds: %d\n",
				peers.Connected, peers.Limit, peers.SendingToUs, peers.GettingFromUs, peers.Webseeds)
			return nil
		},
	}
}

func newTorrentCreateCommand() *cobra.Command {
	var out string
	var tracker string
	cmd := &cobra.Command{
		Use:   "create <folder>",
		Short: "Create a .torrent file from a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := args[0]
			dest := out
			if dest == "" {
				dest = folder + ".torrent"
			}
			if err := torrent.CreateTorrentFile(folder, dest, tracker); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default <folder>.torrent)")
	cmd.Flags().StringVar(&tracker, "tracker", "", "announce URL to embed")
	return cmd
}
