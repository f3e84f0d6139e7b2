package predict

import (
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/tidwall/gjson"

	"github.com/hpungsan/protkit/internal/errors"
)

// extractor is one strategy for pulling a value out of a response document.
// Strategies are tried in order and the first match wins.
type extractor[T any] struct {
	name string
	fn   func(doc gjson.Result) (T, bool)
}

func firstMatch[T any](doc gjson.Result, strategies []extractor[T]) (T, string, bool) {
	for _, s := range strategies {
		if v, ok := s.fn(doc); ok {
			return v, s.name, true
		}
	}
	var zero T
	return zero, "", false
}

type structurePayload struct {
	format  string
	content string
}

// payloadKeys are the field names that may hold structure text, in order.
var payloadKeys = []string{"structure", "content", "pdb", "mmcif"}

var structureStrategies = []extractor[structurePayload]{
	{name: "structures.0.structure", fn: func(doc gjson.Result) (structurePayload, bool) {
		content, ok := nonEmptyString(doc.Get("structures.0.structure"))
		if !ok {
			return structurePayload{}, false
		}
		return structurePayload{
			format:  normalizeFormat(doc.Get("structures.0.format").String(), content),
			content: content,
		}, true
	}},
	{name: "structures.0", fn: func(doc gjson.Result) (structurePayload, bool) {
		return payloadFromObject(doc.Get("structures.0"), payloadKeys[1:])
	}},
	{name: "prediction.structure", fn: func(doc gjson.Result) (structurePayload, bool) {
		return payloadAt(doc.Get("prediction.structure"))
	}},
	{name: "prediction", fn: func(doc gjson.Result) (structurePayload, bool) {
		return payloadAt(doc.Get("prediction"))
	}},
	{name: "root", fn: func(doc gjson.Result) (structurePayload, bool) {
		return payloadFromObject(doc, payloadKeys)
	}},
}

// payloadAt accepts either a bare structure string or an object holding one.
func payloadAt(v gjson.Result) (structurePayload, bool) {
	if content, ok := nonEmptyString(v); ok {
		return structurePayload{format: SniffFormat(content), content: content}, true
	}
	return payloadFromObject(v, payloadKeys)
}

// payloadFromObject checks keys on an object. A "pdb" or "mmcif" key
// declares the format; other keys are sniffed.
func payloadFromObject(obj gjson.Result, keys []string) (structurePayload, bool) {
	if !obj.IsObject() {
		return structurePayload{}, false
	}
	for _, key := range keys {
		content, ok := nonEmptyString(obj.Get(key))
		if !ok {
			continue
		}
		format := key
		if key != FormatPDB && key != FormatMMCIF {
			format = normalizeFormat(obj.Get("format").String(), content)
		}
		return structurePayload{format: format, content: content}, true
	}
	return structurePayload{}, false
}

func nonEmptyString(v gjson.Result) (string, bool) {
	if v.Type != gjson.String || strings.TrimSpace(v.Str) == "" {
		return "", false
	}
	return v.Str, true
}

type confidenceScore struct {
	value  float64
	scores []float64
}

var confidenceStrategies = []extractor[confidenceScore]{
	{name: "confidence_scores", fn: scoreAt("confidence_scores")},
	{name: "iptm_scores", fn: scoreAt("iptm_scores")},
	{name: "ptm_scores", fn: scoreAt("ptm_scores")},
	{name: "confidence", fn: scoreAt("confidence")},
}

// scoreAt reads the head of a numeric list, or a numeric scalar, at path.
func scoreAt(path string) func(gjson.Result) (confidenceScore, bool) {
	return func(doc gjson.Result) (confidenceScore, bool) {
		v := doc.Get(path)
		switch {
		case v.IsArray():
			var scores []float64
			for _, item := range v.Array() {
				if item.Type == gjson.Number {
					scores = append(scores, item.Num)
				}
			}
			head := v.Get("0")
			if head.Type != gjson.Number {
				return confidenceScore{}, false
			}
			return confidenceScore{value: head.Num, scores: scores}, true
		case v.Type == gjson.Number:
			return confidenceScore{value: v.Num, scores: []float64{v.Num}}, true
		default:
			return confidenceScore{}, false
		}
	}
}

var metricsStrategies = []extractor[map[string]float64]{
	{name: "metrics", fn: metricsAt("metrics")},
	{name: "prediction.metrics", fn: metricsAt("prediction.metrics")},
}

// metricsAt keeps the numeric members of the object at path.
func metricsAt(path string) func(gjson.Result) (map[string]float64, bool) {
	return func(doc gjson.Result) (map[string]float64, bool) {
		v := doc.Get(path)
		if !v.IsObject() {
			return nil, false
		}
		metrics := make(map[string]float64)
		v.ForEach(func(key, value gjson.Result) bool {
			if value.Type == gjson.Number {
				metrics[key.String()] = value.Num
			}
			return true
		})
		return metrics, true
	}
}

// extraction is the normalized view of a final service response, including
// which strategy supplied each field.
type extraction struct {
	structure       *structurePayload
	structureSource string
	confidence      *confidenceScore
	confidenceFrom  string
	metrics         map[string]float64
	metricsSource   string
}

// extract applies every strategy list to body. Missing fields are left empty.
func extract(body []byte) (*extraction, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.NewMalformedResponse("response body is not valid JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, errors.NewMalformedResponse("response body is not a JSON object")
	}

	ex := &extraction{}
	if s, src, ok := firstMatch(doc, structureStrategies); ok {
		ex.structure, ex.structureSource = &s, src
	}
	if c, src, ok := firstMatch(doc, confidenceStrategies); ok {
		ex.confidence, ex.confidenceFrom = &c, src
	}
	if m, src, ok := firstMatch(doc, metricsStrategies); ok {
		ex.metrics, ex.metricsSource = m, src
	}
	return ex, nil
}

// toResult builds the remote Result from an extraction.
func (ex *extraction) toResult(now time.Time) *Result {
	r := &Result{Time: now, Metrics: ex.metrics}

	format := FormatMMCIF
	content := ""
	if ex.structure != nil {
		format, content = ex.structure.format, ex.structure.content
	}
	r.Structure = &Structure{
		Format:  format,
		Content: content,
		ID:      newStructureID("boltz", now),
	}

	if ex.confidence != nil {
		v := ex.confidence.value
		r.Confidence = &v
		r.ConfidenceSource = ex.confidenceFrom
		if len(ex.confidence.scores) > 1 {
			if mean, err := stats.Mean(ex.confidence.scores); err == nil {
				r.ConfidenceMean = &mean
			}
		}
	}
	return r
}
