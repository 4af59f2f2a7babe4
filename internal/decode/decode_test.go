package decode

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lotas/studzo/internal/types"
)

type scamReport struct {
	RiskLevel string   `json:"risk_level"`
	RedFlags  []string `json:"red_flags"`
}

func TestDecodeShapes(t *testing.T) {
	want := map[string]any{"risk_level": "High"}

	tests := []struct {
		name string
		body string
	}{
		{"structured object", `{"risk_level":"High"}`},
		{"fenced raw text", "```json\n{\"risk_level\":\"High\"}\n```"},
		{"fence without tag", "```\n{\"risk_level\":\"High\"}\n```"},
		{"json string payload", `"` + "```json\\n{\\\"risk_level\\\":\\\"High\\\"}\\n```" + `"`},
		{"raw_response envelope", `{"raw_response":"` + "```json\\n{\\\"risk_level\\\":\\\"High\\\"}\\n```" + `"}`},
		{"surrounding whitespace", "\n\n  ```json {\"risk_level\":\"High\"} ```  \n"},
		{"stray fences everywhere", "``````json\n{\"risk_level\":\"High\"}\n``````"},
		{"unfenced text", ` {"risk_level":"High"} `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Any([]byte(tt.body))
			if err != nil {
				t.Fatalf("Any(%q): %v", tt.body, err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"whitespace after stripping", "```json\n   \n```"},
		{"only fences", "``````"},
		{"json null", "null"},
		{"plain prose", "Sorry, I could not analyze that."},
		{"truncated json", "```json\n{\"risk_level\": \n```"},
		{"two documents", "```json\n{\"a\":1}\n```\n```json\n{\"b\":2}\n```"},
		{"empty envelope", `{"raw_response":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Any([]byte(tt.body))
			if err == nil {
				t.Fatalf("Any(%q) succeeded, want MalformedResponse", tt.body)
			}
			if k := types.KindOf(err); k != types.KindMalformedResponse {
				t.Errorf("kind = %v, want %v", k, types.KindMalformedResponse)
			}
			var te *types.Error
			if !errors.As(err, &te) || te.Raw != tt.body {
				t.Errorf("raw text not preserved: %+v", te)
			}
		})
	}
}

func TestDecodeTyped(t *testing.T) {
	body := "```json\n{\"risk_level\":\"Low\",\"red_flags\":[\"upfront fee\"]}\n```"
	got, err := Decode[scamReport]([]byte(body))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := scamReport{RiskLevel: "Low", RedFlags: []string{"upfront fee"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeShapeMismatch(t *testing.T) {
	got, err := Decode[scamReport]([]byte(`[1,2,3]`))
	if types.KindOf(err) != types.KindMalformedResponse {
		t.Fatalf("err = %v, want MalformedResponse", err)
	}
	if diff := cmp.Diff(scamReport{}, got); diff != "" {
		t.Errorf("expected zero value on failure, got %+v", got)
	}
}

func TestDecodeArray(t *testing.T) {
	got, err := Any([]byte("```json\n[{\"candidate_name\":\"Wei\",\"match_score\":87}]\n```"))
	if err != nil {
		t.Fatalf("Any: %v", err)
	}
	want := []any{map[string]any{"candidate_name": "Wei", "match_score": float64(87)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestStripFences(t *testing.T) {
	got := StripFences("```json\n{}\n``` and ```python\nx\n```")
	if got != "{}\n and \nx" {
		t.Errorf("StripFences = %q", got)
	}
}
