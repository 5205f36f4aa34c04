package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/relayd/internal/relayclient"
)

func statsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Статистика relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func statusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Состояние relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			report, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func reloadCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Перечитать реестр узлов relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			n, err := c.Reload(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "узлов: %d\n", n)
			return err
		},
	}
}

// run: запуск агента на узлах через relay.
func runCmd(opts *globalOptions) *cobra.Command {
	var run relayclient.RemoteRun

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Запустить агента на узлах",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if run.All == (len(run.Nodes) > 0) {
				return fmt.Errorf("нужен ровно один из флагов --all и --nodes")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			execution, err := c.Run(cmd.Context(), run)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), execution); err != nil {
				return err
			}
			if execution.Status == "failed" {
				return fmt.Errorf("запуск %s завершился ошибкой: %s", execution.ID, execution.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&run.Nodes, "nodes", nil, "идентификаторы или hostname узлов")
	cmd.Flags().BoolVar(&run.All, "all", false, "все известные узлы")
	cmd.Flags().StringSliceVar(&run.Classes, "classes", nil, "классы агента")
	cmd.Flags().BoolVar(&run.KeepOutput, "keep-output", false, "вернуть вывод агента")
	cmd.Flags().BoolVar(&run.Asynchronous, "async", false, "не ждать завершения")
	return cmd
}

func executionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "execution <id>",
		Short: "Состояние запуска агента",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			execution, err := c.Execution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), execution)
		},
	}
}
