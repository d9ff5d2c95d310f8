// Package manifest provides YAML manifest parsing for reagent runs.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	v1 "github.com/klubi/reagent/pkg/apis/v1"
	"gopkg.in/yaml.v3"
)

// ParseFile reads a YAML file at the given path and parses the runs it
// declares. A path of "-" reads standard input. Multi-document YAML
// (separated by ---) is supported.
func ParseFile(path string) ([]*v1.Run, error) {
	if path == "-" {
		return ParseReader(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file %s: %w", path, err)
	}
	return ParseBytes(data)
}

// ParseReader parses every document read from r.
func ParseReader(r io.Reader) ([]*v1.Run, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses raw YAML bytes into runs.
func ParseBytes(data []byte) ([]*v1.Run, error) {
	var runs []*v1.Run

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	for doc := 1; ; doc++ {
		// Decode into a generic yaml.Node so we can re-decode it.
		var node yaml.Node
		if err := decoder.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decoding yaml document %d: %w", doc, err)
		}
		if node.Kind == 0 {
			continue
		}

		// First pass: extract TypeMeta to determine the Kind.
		var meta v1.TypeMeta
		if err := node.Decode(&meta); err != nil {
			return nil, fmt.Errorf("decoding type meta of document %d: %w", doc, err)
		}
		if meta.Kind == "" && meta.APIVersion == "" {
			continue
		}
		if meta.Kind != v1.KindRun {
			return nil, fmt.Errorf("document %d: unknown resource kind: %q", doc, meta.Kind)
		}
		if meta.APIVersion != "" && meta.APIVersion != v1.APIVersion {
			return nil, fmt.Errorf("document %d: unsupported apiVersion %q (want %s)", doc, meta.APIVersion, v1.APIVersion)
		}

		// Second pass: decode into the concrete type.
		var run v1.Run
		if err := node.Decode(&run); err != nil {
			return nil, fmt.Errorf("decoding Run in document %d: %w", doc, err)
		}
		run.APIVersion = v1.APIVersion
		// Status is owned by the server.
		run.Status = v1.RunStatus{}

		if err := validate(&run); err != nil {
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		runs = append(runs, &run)
	}

	return runs, nil
}

// validate checks that required fields are set on run. The name may be
// left empty for the server to generate.
func validate(run *v1.Run) error {
	if strings.TrimSpace(run.Spec.Query) == "" {
		return fmt.Errorf("validation failed: Run %q has an empty spec.query", run.Metadata.Name)
	}
	if run.Spec.MaxSteps < 0 {
		return fmt.Errorf("validation failed: Run %q has negative spec.maxSteps", run.Metadata.Name)
	}
	return nil
}
