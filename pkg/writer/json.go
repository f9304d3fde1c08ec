// Package writer encodes export metadata as JSON.
package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Putter stores an object under a key.
type Putter interface {
	Put(ctx context.Context, key string, reader io.Reader) error
}

// JSONWriter writes values of T as JSON.
type JSONWriter[T any] struct {
	// Indent specifies the indentation for pretty printing.
	// Empty string means compact output.
	Indent string
}

// NewJSONWriter creates a new JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{}
}

// NewPrettyJSONWriter creates a JSON writer with pretty printing.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// Write writes data to writer followed by a newline.
func (w *JSONWriter[T]) Write(data T, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	return encoder.Encode(data)
}

// Put encodes data and stores it under key, returning the encoded size.
func (w *JSONWriter[T]) Put(ctx context.Context, dst Putter, key string, data T) (int, error) {
	var buf bytes.Buffer
	if err := w.Write(data, &buf); err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	size := buf.Len()
	if err := dst.Put(ctx, key, &buf); err != nil {
		return 0, err
	}
	return size, nil
}
