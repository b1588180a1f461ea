// Package metrics provides ready-made metric functions satisfying the
// optimizer's scoring contract: (Example, outputs) -> [0, 1].
package metrics

import (
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/promptforge/teleprompt/pkg/core"
)

var foldCaser = cases.Fold()

// Normalize canonicalizes text for comparison: Unicode NFKC normalization,
// case folding, and whitespace trimming.
func Normalize(s string) string {
	return strings.TrimSpace(foldCaser.String(norm.NFKC.String(s)))
}

// Title renders a display title; exported for callers labeling metric
// output in reports.
func Title(s string) string {
	return cases.Title(language.Und).String(s)
}

// ExactMatch scores 1.0 when every label field is matched exactly in the
// outputs, 0.0 otherwise. String fields are compared after normalization.
func ExactMatch(example core.Example, outputs map[string]interface{}) float64 {
	labels := example.Labels()
	if len(labels) == 0 {
		return 0.0
	}

	for key, expected := range labels {
		actual, ok := outputs[key]
		if !ok {
			return 0.0
		}
		if !valuesMatch(expected, actual) {
			return 0.0
		}
	}
	return 1.0
}

// ExactMatchField builds a metric comparing a single output field.
func ExactMatchField(field string) core.Metric {
	return func(example core.Example, outputs map[string]interface{}) float64 {
		expected, ok := example.Get(field)
		if !ok {
			return 0.0
		}
		actual, ok := outputs[field]
		if !ok {
			return 0.0
		}
		if valuesMatch(expected, actual) {
			return 1.0
		}
		return 0.0
	}
}

func valuesMatch(expected, actual interface{}) bool {
	expectedStr, eok := expected.(string)
	actualStr, aok := actual.(string)
	if eok && aok {
		return Normalize(expectedStr) == Normalize(actualStr)
	}
	return reflect.DeepEqual(expected, actual)
}

// F1 computes the mean token-level F1 over all string label fields.
func F1(example core.Example, outputs map[string]interface{}) float64 {
	labels := example.Labels()

	var totalF1 float64
	var count int

	for key, expected := range labels {
		actual, ok := outputs[key]
		if !ok {
			count++
			continue
		}

		expectedStr := toString(expected)
		actualStr := toString(actual)

		expectedTokens := strings.Fields(Normalize(expectedStr))
		actualTokens := strings.Fields(Normalize(actualStr))

		if len(expectedTokens) == 0 && len(actualTokens) == 0 {
			totalF1 += 1.0
			count++
			continue
		}
		if len(expectedTokens) == 0 || len(actualTokens) == 0 {
			count++
			continue
		}

		common := intersection(expectedTokens, actualTokens)
		precision := float64(len(common)) / float64(len(actualTokens))
		recall := float64(len(common)) / float64(len(expectedTokens))

		if precision+recall > 0 {
			totalF1 += 2 * precision * recall / (precision + recall)
		}
		count++
	}

	if count == 0 {
		return 0.0
	}
	return totalF1 / float64(count)
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func intersection(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, item := range a {
		set[item] = true
	}

	var result []string
	for _, item := range b {
		if set[item] {
			result = append(result, item)
			delete(set, item)
		}
	}
	return result
}
