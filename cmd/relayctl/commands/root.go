// Пакет commands — команды relayctl.
package commands

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/relayd/internal/relayclient"
)

const defaultRelayURL = "http://127.0.0.1:3030"

// globalOptions — флаги, общие для всех команд.
type globalOptions struct {
	relayURL string
	token    string
	timeout  time.Duration
}

// client создаёт клиент relay по глобальным флагам.
func (o *globalOptions) client() (*relayclient.Client, error) {
	return relayclient.New(o.relayURL,
		relayclient.WithToken(o.token),
		relayclient.WithHTTPClient(&http.Client{Timeout: o.timeout}),
	)
}

// Execute запускает relayctl с аргументами командной строки.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd собирает дерево команд.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:          "relayctl",
		Short:        "Клиент relayd",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.relayURL, "relay", envDefault("RELAYCTL_URL", defaultRelayURL),
		"базовый URL relay (RELAYCTL_URL)")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("RELAYCTL_TOKEN"),
		"Bearer token для reload и remote run (RELAYCTL_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute,
		"таймаут HTTP-запроса")

	root.AddCommand(
		fingerprintCmd(),
		uploadCmd(opts),
		probeCmd(opts),
		statsCmd(opts),
		statusCmd(opts),
		reloadCmd(opts),
		runCmd(opts),
		executionCmd(opts),
	)
	return root
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// printJSON печатает v с отступами.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
