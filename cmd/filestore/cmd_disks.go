package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shashiranjanraj/filestore/pkg/storage"
)

// filestore disks: print the configured disks and the installed drivers.
var disksCmd = &cobra.Command{
	Use:   "disks",
	Short: "List configured disks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg := storage.NewRegistry()
		if err := reg.Configure(cfg.Disks); err != nil {
			return err
		}

		def := cfg.DefaultDisk
		disks := reg.Disks()
		if def == "" && len(disks) == 1 {
			def = disks[0].Name
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tDRIVER\tVISIBILITY\tDEFAULT")
		fmt.Fprintln(w, "----\t------\t----------\t-------")
		for _, d := range disks {
			vis := "public"
			if d.Private() {
				vis = "private"
			}
			mark := ""
			if d.Name == def {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.DriverID(), vis, mark)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Printf("\ndrivers: %v\n", storage.Drivers())
		return nil
	},
}
