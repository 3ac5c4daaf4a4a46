package host

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/tracectl/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Format selects how descriptions are written.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatText, FormatYAML, FormatJSON:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown format: %s", raw)
	}
}

// Writer writes descriptions in one format.
type Writer struct {
	format Format
	out    io.Writer
	yaml   *yaml.Encoder
	json   *json.Encoder
}

func NewWriter(out io.Writer, format Format) *Writer {
	w := &Writer{format: format, out: out}
	switch format {
	case FormatYAML:
		w.yaml = yaml.NewEncoder(out)
		w.yaml.SetIndent(2)
	case FormatJSON:
		w.json = json.NewEncoder(out)
	}
	return w
}

func (w *Writer) Write(d protocol.Description) error {
	switch w.format {
	case FormatYAML:
		return w.yaml.Encode(d)
	case FormatJSON:
		return w.json.Encode(d)
	default:
		_, err := fmt.Fprintln(w.out, Text(d))
		return err
	}
}

func (w *Writer) Close() error {
	if w.yaml != nil {
		return w.yaml.Close()
	}
	return nil
}

// Text renders d on one line.
func Text(d protocol.Description) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%03d %010d %-18s", d.Seq, d.Time, d.Kind)
	if d.Originator != 0 {
		fmt.Fprintf(&b, " id=%d", d.Originator)
	}
	for _, a := range d.Attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	for _, f := range d.Fields {
		switch v := f.(type) {
		case string:
			fmt.Fprintf(&b, " %s", v)
		case []byte:
			fmt.Fprintf(&b, " [% X]", v)
		default:
			fmt.Fprintf(&b, " %v", v)
		}
	}
	return strings.TrimRight(b.String(), " ")
}
