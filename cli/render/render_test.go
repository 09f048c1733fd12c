package render

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type sampleSummary struct {
	CheckedUsers  int      `json:"checked_users"`
	TotalProjects int      `json:"total_projects"`
	Output        string   `json:"output"`
	Extras        []string `json:"extras,omitempty"`
}

func sample() sampleSummary {
	return sampleSummary{
		CheckedUsers:  120,
		TotalProjects: 34,
		Output:        "output/projects_test.json",
		Extras:        []string{"a", "b"},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"table", FormatTable, false},
		{"yaml", FormatYAML, false},
		{"JSON", FormatJSON, false},
		{"", "", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRenderer_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, &buf)

	if err := r.Render(sample()); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	var got sampleSummary
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if !reflect.DeepEqual(got, sample()) {
		t.Errorf("round-tripped = %+v, want %+v", got, sample())
	}
	if !strings.Contains(buf.String(), "\n  \"checked_users\"") {
		t.Error("JSON output is not indented")
	}
}

func TestRenderer_YAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, &buf)

	if err := r.Render(map[string]int{"checked": 5}); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	var got map[string]int
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if got["checked"] != 5 {
		t.Errorf("round-tripped checked = %d, want 5", got["checked"])
	}
}

func TestRenderer_TableStruct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	if err := r.Render(sample()); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()

	// json tag names, not Go field names.
	for _, want := range []string{"checked_users:", "total_projects:", "output:"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "120") {
		t.Errorf("table output missing value 120:\n%s", out)
	}
	if !strings.Contains(out, "[2 items]") {
		t.Errorf("table output should summarize slices, got:\n%s", out)
	}
}

func TestRenderer_TablePointer(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	s := sample()
	if err := r.Render(&s); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(buf.String(), "checked_users:") {
		t.Errorf("table output for pointer missing fields:\n%s", buf.String())
	}
}

func TestRenderer_TableScalar(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	if err := r.Render("done"); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(buf.String(), "done") {
		t.Errorf("scalar table output = %q, want it to contain %q", buf.String(), "done")
	}
}
