package main

import (
	"fmt"

	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/util"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func keygenCmd() *cobra.Command {
	var out string
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a router identity and write it as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = config.NewFromViper().Router.IdentityFile
			}
			if util.CheckFileExists(out) && !force {
				return oops.Errorf("%s exists, use --force to replace it", out)
			}
			id, err := identity.Generate()
			if err != nil {
				return err
			}
			defer id.Zero()
			if err := id.Save(out); err != nil {
				return err
			}
			h := id.Hash()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nhash %x\n", out, h[:])
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "identity file (default router.identity_file)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing file")
	return cmd
}

func identityCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print the hash of a router identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" {
				in = config.NewFromViper().Router.IdentityFile
			}
			id, err := identity.Load(in)
			if err != nil {
				return err
			}
			defer id.Zero()
			h := id.Hash()
			pub := id.Public()
			fmt.Fprintf(cmd.OutOrStdout(), "hash    %x\nstatic  %x\nsigning %x\n", h[:], pub.StaticKey[:], pub.SigningKey[:])
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "identity file (default router.identity_file)")
	return cmd
}
