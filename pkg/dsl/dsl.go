// Package dsl parses YAML workflow definitions into executable flows.
// Node construction is delegated to a Registry of builders keyed by node
// type, so applications can register custom task kinds alongside the
// built-in script type.
package dsl

import (
	"fmt"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/script"
	"gopkg.in/yaml.v3"
)

// FlowSpec is the top-level YAML document describing a flow.
type FlowSpec struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params,omitempty"`
	Start  string         `yaml:"start"`
	Nodes  []NodeSpec     `yaml:"nodes"`
}

// NodeSpec describes one node. Next maps outcome labels to target node
// names; the "default" label routes unlabeled transitions.
type NodeSpec struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	Script  string            `yaml:"script,omitempty"`
	Retries int               `yaml:"retries,omitempty"`
	Wait    string            `yaml:"wait,omitempty"`
	Config  map[string]any    `yaml:"config,omitempty"`
	Next    map[string]string `yaml:"next,omitempty"`
}

// RetryWait parses the Wait field, defaulting to zero.
func (n NodeSpec) RetryWait() (time.Duration, error) {
	if n.Wait == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(n.Wait)
	if err != nil {
		return 0, fmt.Errorf("node %q: invalid wait %q: %w", n.Name, n.Wait, err)
	}
	return d, nil
}

// Builder constructs a node from its spec. Retry options derived from the
// spec are passed in and should be forwarded to the task constructor.
type Builder func(spec NodeSpec, opts ...flow.TaskOption) (flow.Node, error)

// Registry maps node type names to builders.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry returns a registry with the built-in node types registered.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.Register("script", buildScript)
	return r
}

// Register adds or replaces a builder for the given type name.
func (r *Registry) Register(nodeType string, b Builder) {
	r.builders[nodeType] = b
}

func (r *Registry) build(spec NodeSpec) (flow.Node, error) {
	b, ok := r.builders[spec.Type]
	if !ok {
		return nil, fmt.Errorf("node %q: unknown type %q", spec.Name, spec.Type)
	}

	var opts []flow.TaskOption
	if spec.Retries > 0 {
		wait, err := spec.RetryWait()
		if err != nil {
			return nil, err
		}
		opts = append(opts, flow.WithRetry(spec.Retries, wait))
	}
	return b(spec, opts...)
}

func buildScript(spec NodeSpec, opts ...flow.TaskOption) (flow.Node, error) {
	if spec.Script == "" {
		return nil, fmt.Errorf("node %q: script type requires a script body", spec.Name)
	}
	return script.NewTask(spec.Name, spec.Script, opts...)
}

// Parse builds a flow from YAML using the default registry.
func Parse(data []byte) (*flow.Flow, error) {
	return ParseWith(data, NewRegistry())
}

// ParseWith builds a flow from YAML using the supplied registry. The
// definition is validated before construction: node names must be unique,
// the start node must exist, and every transition target must name a
// defined node.
func ParseWith(data []byte, registry *Registry) (*flow.Flow, error) {
	var spec FlowSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse flow definition: %w", err)
	}
	if err := validate(spec); err != nil {
		return nil, err
	}

	nodes := make(map[string]flow.Node, len(spec.Nodes))
	for _, ns := range spec.Nodes {
		n, err := registry.build(ns)
		if err != nil {
			return nil, err
		}
		nodes[ns.Name] = n
	}

	for _, ns := range spec.Nodes {
		for label, target := range ns.Next {
			nodes[ns.Name].Connect(nodes[target], flow.Action(label))
		}
	}

	return flow.NewFlow(spec.Name,
		flow.WithStart(nodes[spec.Start]),
		flow.WithParams(spec.Params),
	), nil
}

func validate(spec FlowSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("flow definition requires a name")
	}
	if len(spec.Nodes) == 0 {
		return fmt.Errorf("flow %q defines no nodes", spec.Name)
	}

	seen := make(map[string]bool, len(spec.Nodes))
	for _, ns := range spec.Nodes {
		if ns.Name == "" {
			return fmt.Errorf("flow %q: every node requires a name", spec.Name)
		}
		if seen[ns.Name] {
			return fmt.Errorf("flow %q: duplicate node name %q", spec.Name, ns.Name)
		}
		seen[ns.Name] = true
	}

	if spec.Start == "" {
		return fmt.Errorf("flow %q requires a start node", spec.Name)
	}
	if !seen[spec.Start] {
		return fmt.Errorf("flow %q: start node %q is not defined", spec.Name, spec.Start)
	}

	for _, ns := range spec.Nodes {
		for label, target := range ns.Next {
			if !seen[target] {
				return fmt.Errorf("flow %q: node %q routes %q to undefined node %q",
					spec.Name, ns.Name, label, target)
			}
		}
	}
	return nil
}
