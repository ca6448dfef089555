package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output. Если jsonMode=true, данные выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo создаёт Output с заданными потоками данных и сообщений.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{
		jsonMode: jsonMode,
		w:        w,
		errW:     errW,
	}
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Run выводит сводку run и таблицу результатов шагов.
// В JSON режиме выводится run целиком.
func (o *Output) Run(run *RunResponse) {
	if o.jsonMode {
		o.JSON(run)
		return
	}

	o.Table(
		[]string{"ID", "WORKFLOW", "STATUS", "COMPLETED", "FAILED", "SKIPPED", "DURATION"},
		[][]string{{
			run.ID,
			run.WorkflowID,
			run.Status,
			strconv.Itoa(run.Counts["completed"]),
			strconv.Itoa(run.Counts["failed"]),
			strconv.Itoa(run.Counts["skipped"]),
			formatDuration(run.DurationMs),
		}},
	)

	if len(run.Results) == 0 {
		return
	}
	fmt.Fprintln(o.w)
	o.Table([]string{"STEP", "STATUS", "ATTEMPTS", "OUTPUT", "DETAIL"}, stepRows(run.Results))
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}

// stepRows строит строки таблицы шагов, отсортированные по ID.
func stepRows(results map[string]StepResultResponse) [][]string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, len(ids))
	for i, id := range ids {
		res := results[id]
		detail := res.Error
		if detail == "" {
			detail = res.Reason
		}
		rows[i] = []string{id, res.Status, strconv.Itoa(res.Attempts), truncate(compact(res.Output), 40), detail}
	}
	return rows
}

func compact(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return strconv.FormatInt(ms, 10) + "ms"
}
