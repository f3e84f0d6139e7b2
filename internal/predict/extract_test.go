package predict

import (
	"testing"
	"time"
)

func TestExtract_StructureStrategies(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSource  string
		wantFormat  string
		wantContent string
	}{
		{
			name:        "structures list with declared format",
			body:        `{"structures": [{"structure": "HEADER x", "format": "mmcif"}]}`,
			wantSource:  "structures.0.structure",
			wantFormat:  FormatMMCIF,
			wantContent: "HEADER x",
		},
		{
			name:        "structures list sniffed as pdb",
			body:        `{"structures": [{"structure": "  HEADER    PROTEIN"}]}`,
			wantSource:  "structures.0.structure",
			wantFormat:  FormatPDB,
			wantContent: "  HEADER    PROTEIN",
		},
		{
			name:        "structures list sniffed as mmcif",
			body:        `{"structures": [{"structure": "data_1ABC\n#"}]}`,
			wantSource:  "structures.0.structure",
			wantFormat:  FormatMMCIF,
			wantContent: "data_1ABC\n#",
		},
		{
			name:        "unlabeled unknown text defaults to mmcif",
			body:        `{"structures": [{"structure": "loop_\n_atom_site"}]}`,
			wantSource:  "structures.0.structure",
			wantFormat:  FormatMMCIF,
			wantContent: "loop_\n_atom_site",
		},
		{
			name:        "structures entry with pdb key",
			body:        `{"structures": [{"pdb": "ATOM 1"}]}`,
			wantSource:  "structures.0",
			wantFormat:  FormatPDB,
			wantContent: "ATOM 1",
		},
		{
			name:        "structures entry with content key",
			body:        `{"structures": [{"content": "data_x"}]}`,
			wantSource:  "structures.0",
			wantFormat:  FormatMMCIF,
			wantContent: "data_x",
		},
		{
			name:        "prediction.structure string",
			body:        `{"prediction": {"structure": "HEADER p"}}`,
			wantSource:  "prediction.structure",
			wantFormat:  FormatPDB,
			wantContent: "HEADER p",
		},
		{
			name:        "prediction.structure object",
			body:        `{"prediction": {"structure": {"mmcif": "data_q"}}}`,
			wantSource:  "prediction.structure",
			wantFormat:  FormatMMCIF,
			wantContent: "data_q",
		},
		{
			name:        "prediction object content key",
			body:        `{"prediction": {"content": "ATOM 2"}}`,
			wantSource:  "prediction",
			wantFormat:  FormatPDB,
			wantContent: "ATOM 2",
		},
		{
			name:        "prediction bare string",
			body:        `{"prediction": "data_bare"}`,
			wantSource:  "prediction",
			wantFormat:  FormatMMCIF,
			wantContent: "data_bare",
		},
		{
			name:        "root mmcif key",
			body:        `{"mmcif": "data_root"}`,
			wantSource:  "root",
			wantFormat:  FormatMMCIF,
			wantContent: "data_root",
		},
		{
			name:        "empty strings are skipped",
			body:        `{"structures": [{"structure": "   "}], "pdb": "ATOM 3"}`,
			wantSource:  "root",
			wantFormat:  FormatPDB,
			wantContent: "ATOM 3",
		},
		{
			name:       "nothing found",
			body:       `{"structures": [], "other": 1}`,
			wantSource: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := extract([]byte(tt.body))
			if err != nil {
				t.Fatalf("extract() error = %v", err)
			}
			if ex.structureSource != tt.wantSource {
				t.Errorf("source = %q, want %q", ex.structureSource, tt.wantSource)
			}
			if tt.wantSource == "" {
				if ex.structure != nil {
					t.Errorf("structure = %+v, want nil", ex.structure)
				}
				return
			}
			if ex.structure.format != tt.wantFormat {
				t.Errorf("format = %q, want %q", ex.structure.format, tt.wantFormat)
			}
			if ex.structure.content != tt.wantContent {
				t.Errorf("content = %q, want %q", ex.structure.content, tt.wantContent)
			}
		})
	}
}

func TestExtract_ConfidenceStrategies(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantSource string
		wantValue  float64
	}{
		{name: "confidence_scores head", body: `{"confidence_scores": [0.7, 0.9], "iptm_scores": [0.1]}`, wantSource: "confidence_scores", wantValue: 0.7},
		{name: "empty list falls through", body: `{"confidence_scores": [], "iptm_scores": [0.33]}`, wantSource: "iptm_scores", wantValue: 0.33},
		{name: "ptm scores", body: `{"ptm_scores": [0.5]}`, wantSource: "ptm_scores", wantValue: 0.5},
		{name: "scalar confidence", body: `{"confidence": 87.5}`, wantSource: "confidence", wantValue: 87.5},
		{name: "list confidence", body: `{"confidence": [64, 70]}`, wantSource: "confidence", wantValue: 64},
		{name: "string confidence ignored", body: `{"confidence": "high"}`, wantSource: ""},
		{name: "absent", body: `{}`, wantSource: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := extract([]byte(tt.body))
			if err != nil {
				t.Fatalf("extract() error = %v", err)
			}
			if ex.confidenceFrom != tt.wantSource {
				t.Fatalf("source = %q, want %q", ex.confidenceFrom, tt.wantSource)
			}
			if tt.wantSource != "" && ex.confidence.value != tt.wantValue {
				t.Errorf("value = %v, want %v", ex.confidence.value, tt.wantValue)
			}
		})
	}
}

func TestExtract_MetricsStrategies(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantSource string
		wantKeys   []string
	}{
		{name: "top level", body: `{"metrics": {"plddt": 80, "label": "x"}}`, wantSource: "metrics", wantKeys: []string{"plddt"}},
		{name: "nested", body: `{"prediction": {"metrics": {"rmsd": 1.1, "tm_score": 0.8}}}`, wantSource: "prediction.metrics", wantKeys: []string{"rmsd", "tm_score"}},
		{name: "non-object metrics skipped", body: `{"metrics": [1, 2], "prediction": {"metrics": {"a": 1}}}`, wantSource: "prediction.metrics", wantKeys: []string{"a"}},
		{name: "absent", body: `{}`, wantSource: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := extract([]byte(tt.body))
			if err != nil {
				t.Fatalf("extract() error = %v", err)
			}
			if ex.metricsSource != tt.wantSource {
				t.Fatalf("source = %q, want %q", ex.metricsSource, tt.wantSource)
			}
			if len(ex.metrics) != len(tt.wantKeys) {
				t.Fatalf("metrics = %v, want keys %v", ex.metrics, tt.wantKeys)
			}
			for _, k := range tt.wantKeys {
				if _, ok := ex.metrics[k]; !ok {
					t.Errorf("missing metric %q", k)
				}
			}
		})
	}
}

func TestExtraction_ToResultDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ex, err := extract([]byte(`{}`))
	if err != nil {
		t.Fatalf("extract() error = %v", err)
	}
	r := ex.toResult(now)
	if r.Simulation {
		t.Error("remote result must not be marked as simulation")
	}
	if r.Structure.Format != FormatMMCIF {
		t.Errorf("default format = %q, want mmcif", r.Structure.Format)
	}
	if r.Confidence != nil {
		t.Errorf("Confidence = %v, want nil", *r.Confidence)
	}
	if !r.Time.Equal(now) {
		t.Errorf("Time = %v, want %v", r.Time, now)
	}
}

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{content: "HEADER    X", want: FormatPDB},
		{content: "\n\nATOM      1", want: FormatPDB},
		{content: "REMARK 1", want: FormatPDB},
		{content: "CRYST1", want: FormatPDB},
		{content: "data_test", want: FormatMMCIF},
		{content: "", want: FormatMMCIF},
		{content: "something else", want: FormatMMCIF},
	}
	for _, tt := range tests {
		if got := SniffFormat(tt.content); got != tt.want {
			t.Errorf("SniffFormat(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}

func TestArtifactFor(t *testing.T) {
	tests := []struct {
		format  string
		wantExt string
		wantMIM string
	}{
		{format: "pdb", wantExt: ".pdb", wantMIM: "chemical/x-pdb"},
		{format: "mmcif", wantExt: ".cif", wantMIM: "chemical/x-mmcif"},
		{format: "MMCIF", wantExt: ".cif", wantMIM: "chemical/x-mmcif"},
		{format: "", wantExt: ".pdb", wantMIM: "chemical/x-pdb"},
		{format: "xyz", wantExt: ".pdb", wantMIM: "chemical/x-pdb"},
	}
	for _, tt := range tests {
		a := ArtifactFor(tt.format)
		if a.Extension != tt.wantExt || a.MimeType != tt.wantMIM {
			t.Errorf("ArtifactFor(%q) = %+v", tt.format, a)
		}
	}

	if got := FileName(&Structure{ID: "mock_01H", Format: "pdb"}); got != "mock_01H.pdb" {
		t.Errorf("FileName() = %q", got)
	}
	if got := FileName(&Structure{Format: "mmcif"}); got != "structure.cif" {
		t.Errorf("FileName() = %q", got)
	}
}
