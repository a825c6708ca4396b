package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shashiranjanraj/filestore/config"
	"github.com/shashiranjanraj/filestore/pkg/storage"
	"github.com/shashiranjanraj/filestore/pkg/storage/imagestats"

	// Drivers register themselves with the storage package.
	_ "github.com/shashiranjanraj/filestore/pkg/storage/database"
	_ "github.com/shashiranjanraj/filestore/pkg/storage/ftp"
	_ "github.com/shashiranjanraj/filestore/pkg/storage/gcs"
	_ "github.com/shashiranjanraj/filestore/pkg/storage/gridfs"
	_ "github.com/shashiranjanraj/filestore/pkg/storage/local"
	_ "github.com/shashiranjanraj/filestore/pkg/storage/memory"
	_ "github.com/shashiranjanraj/filestore/pkg/storage/s3"
	_ "github.com/shashiranjanraj/filestore/pkg/storage/sftp"
)

var (
	configFlag string
	diskFlag   string
	uniqueFlag bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "filestore",
	Short:         "Read, write and serve files across configured disks",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFlag, "config", "", "filesystems file (default $STORAGE_CONFIG or config/filesystems.yaml)")
	pf.StringVarP(&diskFlag, "disk", "d", "", "disk to operate on (default: the configured default disk)")
	pf.BoolVar(&uniqueFlag, "unique", false, "store puts under generated file names")

	// Files
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(mvCmd)

	// Metadata
	rootCmd.AddCommand(urlCmd)
	rootCmd.AddCommand(existsCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(lsCmd)

	// Directories
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmdirCmd)

	// Disks & server
	rootCmd.AddCommand(disksCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the filesystems file and applies env and flag overrides.
func loadConfig() (storage.Config, error) {
	if err := config.Load(); err != nil {
		return storage.Config{}, err
	}

	path := configFlag
	if path == "" {
		path = config.StorageConfigPath()
	}
	cfg, err := storage.LoadConfigFile(path)
	if err != nil {
		return storage.Config{}, err
	}

	if def := config.StorageDefault(); def != "" {
		cfg.DefaultDisk = def
	}
	cfg.UniqueFileName = cfg.UniqueFileName || config.StorageUniqueNames() || uniqueFlag
	cfg.Plugins = []storage.PluginFactory{imagestats.New}
	return cfg, nil
}

// openStorage configures storage and, with --disk, switches to that disk.
func openStorage(ctx context.Context) (*storage.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if diskFlag == "" || diskFlag == st.Name() {
		return st, nil
	}
	return st.DiskStorage(ctx, diskFlag)
}
