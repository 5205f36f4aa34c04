package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/relayd/internal/relayclient"
	"github.com/bigkaa/relayd/internal/trust"
)

// fileKey — флаги ключа записи shared-файла.
type fileKey struct {
	target string
	source string
	fileID string
}

func (k *fileKey) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.target, "target", "", "идентификатор узла-получателя")
	cmd.Flags().StringVar(&k.source, "source", "", "идентификатор узла-отправителя")
	cmd.Flags().StringVar(&k.fileID, "file-id", "", "идентификатор файла")
	for _, name := range []string{"target", "source", "file-id"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

// upload <file>: подписать файл ключом узла и загрузить на relay.
func uploadCmd(opts *globalOptions) *cobra.Command {
	var (
		key                    fileKey
		keyPath, hostname      string
		keyID, keydate         string
		algorithm, fpAlgorithm string
		expires                string
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Подписать и загрузить shared-файл",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := trust.ParseHashAlgorithm(algorithm)
			if err != nil {
				return err
			}
			fpAlg, err := trust.ParseHashAlgorithm(fpAlgorithm)
			if err != nil {
				return err
			}

			pemData, err := os.ReadFile(keyPath)
			if err != nil {
				return err
			}
			privateKey, err := trust.LoadPrivateKeyPEM(pemData)
			if err != nil {
				return err
			}
			if keydate == "" {
				keydate = time.Now().UTC().Format("2006-01-02 15:04:05-07:00")
			}
			signer, err := relayclient.NewSigner(privateKey, relayclient.SignerConfig{
				Hostname:             hostname,
				KeyID:                keyID,
				Keydate:              keydate,
				Algorithm:            alg,
				FingerprintAlgorithm: fpAlg,
			})
			if err != nil {
				return err
			}

			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fields, err := signer.Manifest(payload, expires)
			if err != nil {
				return err
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			err = c.Put(cmd.Context(), relayclient.Upload{
				TargetID: key.target,
				SourceID: key.source,
				FileID:   key.fileID,
				Fields:   fields,
				Payload:  payload,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "загружено, hash=%s\n", signer.Fingerprint())
			return err
		},
	}

	key.register(cmd)
	cmd.Flags().StringVar(&keyPath, "key", "", "PEM файл приватного ключа узла")
	cmd.Flags().StringVar(&hostname, "hostname", "", "hostname узла-отправителя")
	cmd.Flags().StringVar(&keyID, "keyid", "", "идентификатор ключа")
	cmd.Flags().StringVar(&keydate, "keydate", "", "дата ключа (по умолчанию текущее время)")
	cmd.Flags().StringVar(&algorithm, "algorithm", "sha512", "алгоритм подписи (sha256, sha512)")
	cmd.Flags().StringVar(&fpAlgorithm, "fingerprint-algorithm", "sha256", "алгоритм отпечатка ключа")
	cmd.Flags().StringVar(&expires, "expires", "1d", "срок жизни, например \"1d 2h 30m\"")
	for _, name := range []string{"key", "hostname", "keyid"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// probe: проверить, хранит ли relay содержимое с hash_value.
// Отсутствие содержимого — код выхода 1.
func probeCmd(opts *globalOptions) *cobra.Command {
	var (
		key  fileKey
		hash string
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Проверить наличие shared-файла на relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			found, err := c.Probe(cmd.Context(), key.target, key.source, key.fileID, hash)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("файл %s/%s/%s с hash %s не найден", key.target, key.source, key.fileID, hash)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "найден")
			return err
		},
	}

	key.register(cmd)
	cmd.Flags().StringVar(&hash, "hash", "", "ожидаемый hash_value")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}
