package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shashiranjanraj/filestore/pkg/storage"
)

var urlTTL time.Duration

// filestore url <path> [--ttl 15m]
var urlCmd = &cobra.Command{
	Use:   "url <path>",
	Short: "Print the public URL of path, or a temporary one with --ttl",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStorage(ctx)
		if err != nil {
			return err
		}

		u := st.URL(args[0])
		if urlTTL > 0 {
			if u, err = st.TemporaryURL(ctx, args[0], urlTTL); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), u)
		return nil
	},
}

// filestore exists <path> (exit status 1 when missing)
var existsCmd = &cobra.Command{
	Use:   "exists <path>",
	Short: "Report whether path exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		ok, err := st.Exists(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ok)
		if !ok {
			return fmt.Errorf("%s: %w", args[0], storage.ErrFileNotFound)
		}
		return nil
	},
}

type fileStat struct {
	Path         string              `json:"path"`
	Size         int64               `json:"size"`
	LastModified time.Time           `json:"last_modified"`
	URL          string              `json:"url"`
	Image        *storage.ImageStats `json:"image,omitempty"`
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show size, modification time and, for images, dimensions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStorage(ctx)
		if err != nil {
			return err
		}

		p := args[0]
		size, err := st.Size(ctx, p)
		if err != nil {
			return err
		}
		ms, err := st.LastModified(ctx, p)
		if err != nil {
			return err
		}
		out := fileStat{Path: p, Size: size, LastModified: time.UnixMilli(ms).UTC(), URL: st.URL(p)}

		img, err := st.ImageStats(ctx, p, false)
		switch {
		case err == nil:
			out.Image = img
		case errors.Is(err, storage.ErrNotAnImage), errors.Is(err, storage.ErrNotSupported):
		default:
			return err
		}

		printJSON(cmd, out)
		return nil
	},
}

func init() {
	urlCmd.Flags().DurationVar(&urlTTL, "ttl", 0, "issue a temporary URL valid for this long")
}
