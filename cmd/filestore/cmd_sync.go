package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/shashiranjanraj/filestore/pkg/storage"
	"github.com/shashiranjanraj/filestore/pkg/workerpool"
)

var (
	syncWorkers int
	syncQuiet   bool
)

// filestore sync <local-dir> [prefix]
var syncCmd = &cobra.Command{
	Use:   "sync <local-dir> [prefix]",
	Short: "Upload every file under a local directory",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStorage(ctx)
		if err != nil {
			return err
		}
		prefix := ""
		if len(args) == 2 {
			prefix = args[1]
		}

		var progress io.Writer = cmd.ErrOrStderr()
		if syncQuiet {
			progress = io.Discard
		}
		n, err := syncDir(ctx, st, args[0], prefix, syncWorkers, progress)
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d file(s) to %s\n", n, st.Name())
		return err
	},
}

func init() {
	syncCmd.Flags().IntVarP(&syncWorkers, "workers", "w", 8, "parallel uploads")
	syncCmd.Flags().BoolVarP(&syncQuiet, "quiet", "q", false, "hide the progress bar")
}

// syncDir uploads every regular file under dir to prefix/<relative path>
// and returns how many succeeded. Failures are joined into the error.
func syncDir(ctx context.Context, st *storage.Storage, dir, prefix string, workers int, progress io.Writer) (int, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("uploading"),
		progressbar.OptionShowCount(),
	)

	pool := workerpool.New(workers)
	defer pool.Shutdown()

	var (
		uploaded  atomic.Int64
		submitErr error
	)
	for _, f := range files {
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			return 0, err
		}
		dst := path.Join(prefix, filepath.ToSlash(rel))

		submitErr = pool.SubmitWait(ctx, func() error {
			defer bar.Add(1) //nolint:errcheck
			if err := upload(ctx, st, f, dst); err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
			uploaded.Add(1)
			return nil
		})
		if submitErr != nil {
			break
		}
	}

	err = errors.Join(submitErr, pool.Wait())
	_ = bar.Finish()
	return int(uploaded.Load()), err
}

func upload(ctx context.Context, st *storage.Storage, src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = st.PutStream(ctx, dst, f)
	return err
}
