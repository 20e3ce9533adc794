package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/app"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/httpapi"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func newSnapshotCommand(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch Picnic once and print all sensor states",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			cfg, closer, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			logger := log.WithField("component", "snapshot")
			deps, err := app.NewDependencies(cfg, app.NewPicnicClient(cfg, logger), nil, nil, logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := deps.Fetcher.ForceRefresh(ctx); err != nil {
				return fmt.Errorf("fetch picnic data: %w", err)
			}
			if err := deps.Poller.UpdateOnce(ctx); err != nil {
				return err
			}

			entities := make([]httpapi.Entity, 0, len(deps.Sensors))
			for _, s := range deps.Sensors {
				entities = append(entities, httpapi.NewEntity(s))
			}
			return render(cmd.OutOrStdout(), output, entities)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table, json, yaml)")
	return cmd
}

func validateOutput(output string) error {
	switch output {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func render(w io.Writer, output string, entities []httpapi.Entity) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entities)
	case outputYAML:
		// через JSON, чтобы время и цены выглядели так же, как в HTTP API
		plain, err := plainValue(entities)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plain); err != nil {
			return err
		}
		return enc.Close()
	default:
		return renderTable(w, entities)
	}
}

func plainValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func renderTable(w io.Writer, entities []httpapi.Entity) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Entity", "State", "Attributes"})

	for _, e := range entities {
		attrs, err := plainValue(e.Attributes)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{e.EntityID, formatState(e.State), formatAttributes(attrs)})
	}
	t.Render()
	return nil
}

func formatState(state any) string {
	if state == nil {
		return "-"
	}
	return fmt.Sprint(state)
}

// formatAttributes печатает скалярные атрибуты как есть, а для списков и вложенных
// объектов печатается размер.
func formatAttributes(attrs any) string {
	m, ok := attrs.(map[string]any)
	if !ok || len(m) == 0 {
		return ""
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		var value string
		switch v := m[k].(type) {
		case []any:
			value = fmt.Sprintf("[%d items]", len(v))
		case map[string]any:
			value = fmt.Sprintf("{%d fields}", len(v))
		case nil:
			value = "-"
		default:
			value = fmt.Sprint(v)
		}
		lines = append(lines, k+": "+value)
	}
	return strings.Join(lines, "\n")
}
