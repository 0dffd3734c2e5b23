// Command gofl is a thin CLI shell over the pack/unpack/mount/clone/
// configops packages. Flag parsing itself is out of scope for the
// core engine; this binary exists to make the
// engine runnable, in the same spirit as rclone's cmd/ tree: a root
// cobra.Command with one subcommand per verb, each doing argument
// validation and then a single call into the library packages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/threefoldtech/gofl/backend/dir"
	_ "github.com/threefoldtech/gofl/backend/http"
	_ "github.com/threefoldtech/gofl/backend/s3"
	_ "github.com/threefoldtech/gofl/backend/zdb"
	"github.com/threefoldtech/gofl/fs/fslog"
)

func main() {
	root := &cobra.Command{
		Use:           "gofl",
		Short:         "Pack, unpack, mount and clone content-addressed FL archives",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("debug", false, "enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			fslog.SetLevel(fslog.LevelDebug)
		}
	}

	root.AddCommand(newPackCmd())
	root.AddCommand(newUnpackCmd())
	root.AddCommand(newMountCmd())
	root.AddCommand(newCloneCmd())
	root.AddCommand(newConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gofl:", err)
		os.Exit(1)
	}
}
