// Package paramdoc decodes stored parameter file payloads into the generic
// map form the merge fold consumes. JSON and YAML encodings are supported;
// callers can hook into the pipeline to normalize legacy payloads before or
// after decoding.
package paramdoc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Context carries identifiers tied to a payload for error attribution.
type Context struct {
	Scope         string
	Configuration string
}

// PreHook lets callers rewrite the raw payload before decoding.
type PreHook func(Context, []byte) ([]byte, error)

// PostHook lets callers adjust or validate the decoded document.
type PostHook func(Context, map[string]any) (map[string]any, error)

// Option configures a Decoder instance.
type Option func(*Decoder)

// Decoder converts parameter payloads into map documents.
type Decoder struct {
	preHooks  []PreHook
	postHooks []PostHook
	useNumber bool
}

// WithPreHook applies hook prior to decoding.
func WithPreHook(hook PreHook) Option {
	return func(d *Decoder) {
		d.preHooks = append(d.preHooks, hook)
	}
}

// WithPostHook applies hook after decoding completes.
func WithPostHook(hook PostHook) Option {
	return func(d *Decoder) {
		d.postHooks = append(d.postHooks, hook)
	}
}

// WithUseNumber decodes JSON numbers as json.Number so re-serialization
// reproduces the stored digits exactly. The engine enables this; checksum
// stability depends on it.
func WithUseNumber() Option {
	return func(d *Decoder) {
		d.useNumber = true
	}
}

// New constructs a Decoder.
func New(opts ...Option) *Decoder {
	d := &Decoder{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts content into a document. format is "json" or "yaml"; an
// empty format sniffs the payload, defaulting to JSON. The top level of the
// payload must be a mapping.
func (d *Decoder) Decode(ctx Context, format string, content []byte) (map[string]any, error) {
	current := content
	for _, hook := range d.preHooks {
		if hook == nil {
			continue
		}
		next, err := hook(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("paramdoc: pre-hook for scope %q failed: %w", ctx.Scope, err)
		}
		if next != nil {
			current = next
		}
	}

	if format == "" {
		format = sniffFormat(current)
	}

	var document map[string]any
	switch format {
	case "json":
		decoder := json.NewDecoder(bytes.NewReader(current))
		if d.useNumber {
			decoder.UseNumber()
		}
		if err := decoder.Decode(&document); err != nil {
			return nil, fmt.Errorf("paramdoc: decode json for scope %q: %w", ctx.Scope, err)
		}
	case "yaml":
		if err := yaml.Unmarshal(current, &document); err != nil {
			return nil, fmt.Errorf("paramdoc: decode yaml for scope %q: %w", ctx.Scope, err)
		}
	default:
		return nil, fmt.Errorf("paramdoc: unsupported format %q for scope %q", format, ctx.Scope)
	}
	if document == nil {
		document = map[string]any{}
	}

	for _, hook := range d.postHooks {
		if hook == nil {
			continue
		}
		next, err := hook(ctx, document)
		if err != nil {
			return nil, fmt.Errorf("paramdoc: post-hook for scope %q failed: %w", ctx.Scope, err)
		}
		if next != nil {
			document = next
		}
	}

	return document, nil
}

func sniffFormat(content []byte) string {
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return "json"
	}
	return "yaml"
}
