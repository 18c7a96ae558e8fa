// Automata CLI — инструмент командной строки для постановки и отката
// tasks напрямую через Executor, без промежуточного HTTP API.
//
// Использование:
//
//	automata-cli execute --task-name http_call --arguments '{"url":"..."}'
//	automata-cli revert --task-name http_call --arguments '{}' --result '{}'
//	automata-cli wait-for-workers --min 1 --timeout 10s
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Automata/internal/domain"
	"github.com/shaiso/Automata/internal/executor"
	"github.com/shaiso/Automata/internal/mq"
	"github.com/shaiso/Automata/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "automata-cli",
		Short:         "Automata CLI — task dispatch over the executor bus",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(
		newExecuteCmd(&jsonOutput),
		newRevertCmd(&jsonOutput),
		newWaitForWorkersCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newCLIExecutor открывает соединение с шиной и возвращает готовый к работе
// Executor, не подписанный ни на одну тему обнаружения кроме той, что уже
// несёт task-name запроса — CLI сам не ведёт Worker Finder по расписанию,
// а полагается на то, что минимум один NOTIFY успеет выполниться в течение
// timeout, передаваемого в ExecuteTask/RevertTask вызовами ниже.
func newCLIExecutor(ctx context.Context, taskName string) (*executor.Executor, *mq.Connection, error) {
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	l := telemetry.SetupLogger()
	conn, err := mq.NewConnection(mqURL, l)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("setup topology: %w", err)
	}

	discoveryTopic := mq.Topic("discovery." + taskName)
	e := executor.New(executor.Config{
		UUID:   uuid.New().String(),
		Topics: []mq.Topic{discoveryTopic},
		Conn:   conn,
		Logger: l,
	})
	if err := e.Start(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("start executor: %w", err)
	}
	return e, conn, nil
}

func parseJSONArg(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return out, nil
}

func newExecuteCmd(jsonOutput *bool) *cobra.Command {
	var taskName, argumentsRaw string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Submit a task for execution and wait for its outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := parseJSONArg(argumentsRaw)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			e, conn, err := newCLIExecutor(ctx, taskName)
			if err != nil {
				return err
			}
			defer conn.Close()
			defer e.Stop()

			id := uuid.New()
			promise := e.ExecuteTask(ctx, taskName, id, arguments, nil)
			outcome := promise.Wait()

			return printOutcome(*jsonOutput, id, outcome)
		},
	}
	cmd.Flags().StringVar(&taskName, "task-name", "", "task to execute (required)")
	cmd.Flags().StringVar(&argumentsRaw, "arguments", "{}", "JSON-encoded task arguments")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "maximum time to wait for a terminal outcome")
	cmd.MarkFlagRequired("task-name")
	return cmd
}

func newRevertCmd(jsonOutput *bool) *cobra.Command {
	var taskName, argumentsRaw, resultRaw, failuresRaw string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Submit a compensating revert for a previously executed task",
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := parseJSONArg(argumentsRaw)
			if err != nil {
				return err
			}
			result, err := parseJSONArg(resultRaw)
			if err != nil {
				return err
			}
			failures, err := parseJSONArg(failuresRaw)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			e, conn, err := newCLIExecutor(ctx, taskName)
			if err != nil {
				return err
			}
			defer conn.Close()
			defer e.Stop()

			id := uuid.New()
			promise := e.RevertTask(ctx, taskName, id, arguments, result, failures, nil)
			outcome := promise.Wait()

			return printOutcome(*jsonOutput, id, outcome)
		},
	}
	cmd.Flags().StringVar(&taskName, "task-name", "", "task to revert (required)")
	cmd.Flags().StringVar(&argumentsRaw, "arguments", "{}", "JSON-encoded task arguments")
	cmd.Flags().StringVar(&resultRaw, "result", "{}", "JSON-encoded result of the original execution")
	cmd.Flags().StringVar(&failuresRaw, "failures", "{}", "JSON-encoded failures seen by the original execution")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "maximum time to wait for a terminal outcome")
	cmd.MarkFlagRequired("task-name")
	return cmd
}

func newWaitForWorkersCmd() *cobra.Command {
	var taskName string
	var minCount int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait-for-workers",
		Short: "Block until at least --min workers have announced the given task",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout+5*time.Second)
			defer cancel()

			e, conn, err := newCLIExecutor(ctx, taskName)
			if err != nil {
				return err
			}
			defer conn.Close()
			defer e.Stop()

			shortfall := e.WaitForWorkers(ctx, minCount, timeout)
			if shortfall > 0 {
				return fmt.Errorf("timed out: found %d of %d workers", minCount-shortfall, minCount)
			}
			fmt.Printf("found at least %d workers for %s\n", minCount, taskName)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskName, "task-name", "", "task to probe for (required)")
	cmd.Flags().IntVar(&minCount, "min", 1, "minimum number of workers required")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "maximum time to wait")
	cmd.MarkFlagRequired("task-name")
	return cmd
}

type outcomeView struct {
	RequestUUID string         `json:"request_uuid"`
	Succeeded   bool           `json:"succeeded"`
	Result      any            `json:"result,omitempty"`
	Failure     map[string]any `json:"failure,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func printOutcome(jsonOutput bool, id uuid.UUID, outcome domain.Outcome) error {
	view := outcomeView{
		RequestUUID: id.String(),
		Succeeded:   outcome.Succeeded(),
		Result:      outcome.Result,
		Failure:     outcome.Failure,
	}
	if outcome.Err != nil {
		view.Error = outcome.Err.Error()
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(view); err != nil {
			return err
		}
	} else {
		fmt.Printf("request %s: succeeded=%v\n", view.RequestUUID, view.Succeeded)
		if view.Result != nil {
			fmt.Printf("  result: %v\n", view.Result)
		}
		if view.Failure != nil {
			fmt.Printf("  failure: %v\n", view.Failure)
		}
		if view.Error != "" {
			fmt.Printf("  error: %s\n", view.Error)
		}
	}

	if !outcome.Succeeded() {
		return fmt.Errorf("task did not succeed")
	}
	return nil
}
