package output

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
)

const ContractVersion = "1.0"

var Formats = []string{"json", "jsonl", "table", "csv"}

type Envelope struct {
	ContractVersion string     `json:"contract_version"`
	Command         string     `json:"command"`
	Timestamp       string     `json:"timestamp"`
	RequestID       string     `json:"request_id"`
	Success         bool       `json:"success"`
	Data            any        `json:"data,omitempty"`
	Warnings        []string   `json:"warnings,omitempty"`
	Error           *ErrorInfo `json:"error,omitempty"`
}

type ErrorInfo struct {
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode,omitempty"`
	StatusCode   int    `json:"status_code,omitempty"`
	Message      string `json:"message"`
	FBTraceID    string `json:"fbtrace_id,omitempty"`
	Retryable    bool   `json:"retryable"`
}

func NewEnvelope(command string, success bool, data any, warnings []string, errorInfo *ErrorInfo) Envelope {
	return Envelope{
		ContractVersion: ContractVersion,
		Command:         command,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		RequestID:       uuid.NewString(),
		Success:         success,
		Data:            data,
		Warnings:        warnings,
		Error:           errorInfo,
	}
}

func ValidFormat(format string) bool {
	for _, candidate := range Formats {
		if candidate == format {
			return true
		}
	}
	return false
}

func Write(w io.Writer, format string, envelope Envelope) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return writeJSON(w, envelope)
	case "jsonl":
		return writeJSONL(w, envelope)
	case "table":
		return writeTable(w, envelope.Data)
	case "csv":
		return writeCSV(w, envelope.Data)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func writeJSON(w io.Writer, envelope Envelope) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(envelope)
}

// writeJSONL emits one envelope per element when Data is a slice.
func writeJSONL(w io.Writer, envelope Envelope) error {
	value := reflect.ValueOf(envelope.Data)
	if envelope.Data == nil || value.Kind() != reflect.Slice {
		return writeLine(w, envelope)
	}
	for i := 0; i < value.Len(); i++ {
		line := envelope
		line.Data = value.Index(i).Interface()
		if err := writeLine(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeLine(w io.Writer, envelope Envelope) error {
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}

func writeTable(w io.Writer, data any) error {
	rows, headers, err := normalizeRows(data)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		values := make([]string, 0, len(headers))
		for _, header := range headers {
			values = append(values, cell(row[header]))
		}
		if _, err := fmt.Fprintln(tw, strings.Join(values, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func writeCSV(w io.Writer, data any) error {
	rows, headers, err := normalizeRows(data)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, 0, len(headers))
		for _, header := range headers {
			record = append(record, cell(row[header]))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// normalizeRows flattens data into rows of top-level fields. Structs are read
// through their JSON encoding.
func normalizeRows(data any) ([]map[string]any, []string, error) {
	switch typed := data.(type) {
	case nil:
		return nil, nil, errors.New("table/csv output requires data")
	case []map[string]any:
		return typed, orderedHeaders(typed), nil
	case map[string]any:
		rows := []map[string]any{typed}
		return rows, orderedHeaders(rows), nil
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("encode table data: %w", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(encoded, &rows); err != nil {
		var row map[string]any
		if err := json.Unmarshal(encoded, &row); err != nil {
			return nil, nil, errors.New("table/csv output requires object or list-of-object data")
		}
		rows = []map[string]any{row}
	}
	return rows, orderedHeaders(rows), nil
}

func orderedHeaders(rows []map[string]any) []string {
	set := map[string]struct{}{}
	for _, row := range rows {
		for key := range row {
			set[key] = struct{}{}
		}
	}
	headers := make([]string, 0, len(set))
	for key := range set {
		headers = append(headers, key)
	}
	sort.Strings(headers)
	return headers
}

// cell renders nested values as compact JSON.
func cell(value any) string {
	switch value.(type) {
	case nil:
		return ""
	case map[string]any, []any:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(encoded)
	default:
		return fmt.Sprint(value)
	}
}
