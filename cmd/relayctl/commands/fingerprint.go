package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/relayd/internal/trust"
)

// fingerprint --key <pem>: отпечаток ключа в формате key-hash реестра узлов.
func fingerprintCmd() *cobra.Command {
	var keyPath, algorithm string

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Отпечаток публичного ключа узла (<алгоритм>:<hex>)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			alg, err := trust.ParseHashAlgorithm(algorithm)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(keyPath)
			if err != nil {
				return err
			}
			key, err := trust.LoadPublicKeyPEM(data)
			if err != nil {
				return err
			}
			fp, err := trust.Fingerprint(key, alg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", alg, fp)
			return err
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "PEM файл публичного или приватного ключа")
	cmd.Flags().StringVar(&algorithm, "algorithm", "sha256", "алгоритм отпечатка (sha256, sha512)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
