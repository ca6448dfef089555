package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kaushiksamanta/krama/internal/telemetry"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunSignalCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var workflowID string
	var status string
	var limit int
	var offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				WorkflowID: workflowID,
				Status:     strings.ToUpper(status),
				Limit:      limit,
				Offset:     offset,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "WORKFLOW", "STATUS", "STEPS", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.WorkflowID, r.Status, strconv.Itoa(len(r.Results)), r.CreatedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow-id", "", "Filter by workflow ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (NOT_STARTED, RUNNING, COMPLETED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string
	var inputs []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "start --file WORKFLOW",
		Short: "Start a new run on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			doc, err := readDocument(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			values, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			run, err := client.StartRun(StartRunRequest{Document: string(doc), Inputs: values, Wait: wait})
			if err != nil {
				return err
			}

			if wait {
				out.Success(fmt.Sprintf("Run finished: %s", run.ID))
				out.Run(run)
				return nil
			}

			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(
				[]string{"ID", "WORKFLOW", "STATUS", "CREATED"},
				[][]string{{run.ID, run.WorkflowID, run.Status, run.CreatedAt}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow document (YAML or JSON), - for stdin")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the run to finish and print results")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details and step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().GetRun(args[0])
			if err != nil {
				return err
			}
			outputFn().Run(run)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var amqpURL string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Request cancellation of an active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := newController(clientFn, amqpURL)
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if err := ctrl.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Cancel requested: %s", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&amqpURL, "amqp", "", "Publish the command to RabbitMQ instead of calling the API")

	return cmd
}

func newRunSignalCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var payload string
	var amqpURL string

	cmd := &cobra.Command{
		Use:   "signal ID STEP_ID",
		Short: "Deliver a payload to a waiting signal step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("payload must be valid JSON")
				}
				raw = json.RawMessage(payload)
			}

			ctrl, err := newController(clientFn, amqpURL)
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if err := ctrl.Signal(cmd.Context(), args[0], args[1], raw); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Signal sent: %s/%s", args[0], args[1]))
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "Signal payload as JSON (null if omitted)")
	cmd.Flags().StringVar(&amqpURL, "amqp", "", "Publish the command to RabbitMQ instead of calling the API")

	return cmd
}

// newController выбирает транспорт команд: RabbitMQ, если задан URL, иначе API.
func newController(clientFn func() *Client, amqpURL string) (Controller, error) {
	if amqpURL == "" {
		return &apiController{client: clientFn()}, nil
	}
	logger := telemetry.SetupLogger(telemetry.LogConfig{Level: "WARN", Format: "text"})
	ctrl, err := dialAMQP(amqpURL, logger)
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}

// readDocument читает документ workflow из файла или stdin ("-").
func readDocument(stdin io.Reader, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("workflow file is required")
	}
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	return data, nil
}

// parseInputs разбирает пары KEY=VALUE.
// Значение, являющееся корректным JSON, передаётся с типом (числа, bool,
// объекты). Иначе передаётся строкой.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			inputs[key] = decoded
			continue
		}
		inputs[key] = value
	}
	return inputs, nil
}
