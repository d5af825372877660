package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"votingrelay.mini/vrm/internal/identity"
)

func newKeygenCommand(opts *options) *cobra.Command {
	var out string
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the relay credential",
		Long: `Write a new secp256k1 key to the key file (key_file, or --out) and print
its address. An existing key is kept and its address printed unless
--force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := out
			if path == "" {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				path = cfg.KeyFile
			}

			var (
				id  *identity.Identity
				err error
			)
			_, statErr := os.Stat(path)
			existed := statErr == nil
			if force {
				if id, err = identity.Generate(); err == nil {
					err = identity.Save(id, path)
				}
			} else {
				id, err = identity.LoadOrCreateIdentity(path)
			}
			if err != nil {
				return err
			}

			state := "created"
			if existed && !force {
				state = "existing"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s key %s\naddress %s\n", state, path, id.AddressHex())
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "key file path (defaults to key_file)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key")
	return cmd
}
