package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/websyro/prismapilot/pkg/query"
)

// readInput decodes the JSON document named by args[0] into v. A missing
// argument or "-" reads stdin.
func readInput(cmd *cobra.Command, args []string, v any) error {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return query.InvalidArgument("request document is empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return query.InvalidArgument("decode request: %v", err)
	}
	return nil
}

// write renders v in the selected output format. YAML output goes through
// the JSON form so both formats share field names.
func (a *app) write(w io.Writer, v any) error {
	var (
		out []byte
		err error
	)
	if a.output == "yaml" {
		out, err = toYAML(v)
	} else if a.pretty {
		out, err = json.MarshalIndent(v, "", "  ")
	} else {
		out, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if len(out) == 0 || out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	_, err = w.Write(out)
	return err
}

func toYAML(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return yaml.Marshal(generic)
}

// writeMetrics dumps the runtime's registry in Prometheus text format.
func (a *app) writeMetrics(rt *Runtime) error {
	if a.metricsFile == "" || rt.Registry == nil {
		return nil
	}
	families, err := rt.Registry.Gatherer().Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return os.WriteFile(a.metricsFile, buf.Bytes(), 0o644)
}
