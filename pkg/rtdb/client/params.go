package client

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RequestDecoratorFunc appends query parameters to a request under construction.
type RequestDecoratorFunc func([]string) []string

// NewQuery composes request decorators into the query string accepted by
// BuildPath, Read, Write and Listen.
func NewQuery(decorators ...RequestDecoratorFunc) string {
	params := make([]string, 0, 5)
	for _, decorate := range decorators {
		params = decorate(params)
	}

	return strings.Join(params, "&")
}

func OrderBy(attribute string) RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, fmt.Sprintf("orderBy=%s", formatQueryValue(attribute)))
	}
}

func LimitToFirst(count uint64) RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, fmt.Sprintf("limitToFirst=%d", count))
	}
}

func LimitToLast(count uint64) RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, fmt.Sprintf("limitToLast=%d", count))
	}
}

func StartAt(value any) RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, fmt.Sprintf("startAt=%s", formatQueryValue(value)))
	}
}

func EndAt(value any) RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, fmt.Sprintf("endAt=%s", formatQueryValue(value)))
	}
}

func EqualTo(value any) RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, fmt.Sprintf("equalTo=%s", formatQueryValue(value)))
	}
}

func Shallow() RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, "shallow=true")
	}
}

// formatQueryValue renders values the way the REST API filter parameters
// expect them: strings quoted, numbers and booleans bare.
func formatQueryValue(value any) string {
	b, _ := json.Marshal(value)
	return string(b)
}
