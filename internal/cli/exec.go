package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kaushiksamanta/krama/internal/api"
	"github.com/kaushiksamanta/krama/internal/config"
	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/engine"
	"github.com/kaushiksamanta/krama/internal/handlers"
	"github.com/kaushiksamanta/krama/internal/orchestrator"
	"github.com/kaushiksamanta/krama/internal/script"
	"github.com/kaushiksamanta/krama/internal/telemetry"
)

// NewExecCmd создаёт команду локального выполнения workflow.
//
// Run выполняется в процессе CLI со встроенными handlers, без сервера.
// Payload для signal шагов передаются заранее через --signal: они
// доставляются до старта и забираются шагом при ожидании.
func NewExecCmd(outputFn func() *Output) *cobra.Command {
	var file string
	var inputs []string
	var signals []string

	cmd := &cobra.Command{
		Use:   "exec --file WORKFLOW",
		Short: "Execute a workflow locally with built-in handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logCfg := cfg.Log
			if logCfg.Level == "" {
				logCfg.Level = "WARN"
			}
			if logCfg.Format == "" {
				logCfg.Format = "text"
			}
			logger := telemetry.SetupLogger(logCfg)

			doc, err := readDocument(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			def, err := engine.ParseWorkflow(doc)
			if err != nil {
				return err
			}
			values, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			payloads, err := parseSignals(signals)
			if err != nil {
				return err
			}

			registry, err := handlers.Default(logger)
			if err != nil {
				return err
			}
			rt := orchestrator.New(orchestrator.Config{
				Registry: registry,
				Scripts:  script.New(script.Config{Logger: logger}),
				Defaults: cfg.Substrate(),
				Logger:   logger,
			})

			wf, err := rt.Prepare(def, values)
			if err != nil {
				return err
			}
			for stepID, payload := range payloads {
				if err := wf.Deliver(stepID, payload); err != nil {
					return fmt.Errorf("signal %s: %w", stepID, err)
				}
			}

			if _, err := wf.Start(cmd.Context()); err != nil {
				return err
			}

			run := wf.Snapshot()
			resp, err := runResponseOf(run)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Run %s: %s", run.ID, run.Status))
			out.Run(resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow document (YAML or JSON), - for stdin")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&signals, "signal", nil, "Signal payload as STEP_ID=JSON (repeatable)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// parseSignals разбирает пары STEP_ID=JSON. Пустое значение означает null.
func parseSignals(pairs []string) (map[string]any, error) {
	signals := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		stepID, value, ok := strings.Cut(kv, "=")
		if !ok || stepID == "" {
			return nil, fmt.Errorf("invalid signal format %q, expected STEP_ID=JSON", kv)
		}
		var payload any
		if value != "" {
			if err := json.Unmarshal([]byte(value), &payload); err != nil {
				return nil, fmt.Errorf("signal %s: payload must be JSON: %w", stepID, err)
			}
		}
		signals[stepID] = payload
	}
	return signals, nil
}

// runResponseOf приводит run к форме ответа API, чтобы локальный и
// серверный вывод совпадали.
func runResponseOf(run *domain.Run) (*RunResponse, error) {
	data, err := json.Marshal(api.RunFromDomain(*run))
	if err != nil {
		return nil, fmt.Errorf("encode run: %w", err)
	}
	var resp RunResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &resp, nil
}
