package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	fetchAnyType bool
	lsRecursive  bool
)

// filestore put <local-file|-> <path>
var putCmd = &cobra.Command{
	Use:   "put <local-file|-> <path>",
	Short: "Upload a local file (or stdin) to path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStorage(ctx)
		if err != nil {
			return err
		}

		var src io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
		}

		res, err := st.PutStream(ctx, args[1], src)
		if res != nil {
			printJSON(cmd, res)
		}
		return err
	},
}

// filestore get <path> [local-file]
var getCmd = &cobra.Command{
	Use:   "get <path> [local-file]",
	Short: "Download path to a local file, or to stdout",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStorage(ctx)
		if err != nil {
			return err
		}

		rc, err := st.Get(ctx, args[0])
		if err != nil {
			return err
		}
		defer rc.Close()

		out := cmd.OutOrStdout()
		if len(args) == 2 {
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		_, err = io.Copy(out, rc)
		return err
	},
}

// filestore fetch <uri> <path>
var fetchCmd = &cobra.Command{
	Use:   "fetch <uri> <path>",
	Short: "Download an external image and store it at path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStorage(ctx)
		if err != nil {
			return err
		}
		meta, err := st.UploadFromExternalURI(ctx, args[0], args[1], fetchAnyType)
		if err != nil {
			return err
		}
		printJSON(cmd, meta)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		return st.Delete(cmd.Context(), args[0])
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp <src> <dst>",
	Short: "Copy a file within the disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		return st.Copy(cmd.Context(), args[0], args[1])
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <src> <dst>",
	Short: "Move a file within the disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		return st.Move(cmd.Context(), args[0], args[1])
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <dir>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		dir, err := st.MakeDir(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), dir)
		return nil
	},
}

var rmdirCmd = &cobra.Command{
	Use:   "rmdir <dir>",
	Short: "Remove a directory and everything under it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		dir, err := st.RemoveDir(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), dir)
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [dir]",
	Short: "List files under dir",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		files, err := st.List(cmd.Context(), dir, lsRecursive)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchAnyType, "any-type", false, "skip the image content-type check")
	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "r", false, "descend into subdirectories")
}

func printJSON(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
