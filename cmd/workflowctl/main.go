// Command workflowctl loads a workflow schema from a YAML or JSON file,
// compiles it against a small set of built-in diagnostic node kinds, and
// runs it once against a JSON event payload. It exists to let a schema
// author validate graph shape (cycles, unreachable nodes, router wiring)
// and watch a run's event trace before wiring real nodes into a host
// application — it is not itself a deployment target for production nodes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/taskflow/workflowcore/graph"
	"github.com/taskflow/workflowcore/graph/emit"
)

func main() {
	schemaPath := flag.String("schema", "", "path to a workflow schema (.yaml or .json)")
	inputPath := flag.String("input", "", "path to a JSON event payload (defaults to {})")
	verbose := flag.Bool("v", false, "emit node_start/node_end/task_* events to stderr")
	flag.Parse()

	if *schemaPath == "" {
		fmt.Fprintln(os.Stderr, "workflowctl: -schema is required")
		flag.Usage()
		os.Exit(2)
	}

	schema, err := loadSchema(*schemaPath)
	if err != nil {
		log.Fatalf("workflowctl: load schema: %v", err)
	}

	eventData, err := loadInput(*inputPath)
	if err != nil {
		log.Fatalf("workflowctl: load input: %v", err)
	}

	registry := graph.NewNodeRegistry()
	if err := registerBuiltins(registry, schema); err != nil {
		log.Fatalf("workflowctl: register nodes: %v", err)
	}

	compiler := graph.NewCompiler(registry)
	plan, err := compiler.Compile(schema)
	if err != nil {
		log.Fatalf("workflowctl: compile: %v", err)
	}

	opts := []graph.EngineOption{}
	if *verbose {
		opts = append(opts, graph.WithEmitter(emit.NewLogEmitter(os.Stderr, false)))
	}
	engine, err := graph.NewEngine(registry, opts...)
	if err != nil {
		log.Fatalf("workflowctl: new engine: %v", err)
	}

	tc := graph.NewTaskContext(uuid.NewString(), schema.WorkflowType, eventData)
	result, err := engine.Run(context.Background(), plan, tc)
	if err != nil {
		log.Fatalf("workflowctl: run failed: %v", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("workflowctl: marshal result: %v", err)
	}
	fmt.Println(string(out))
}

// fileSchema is the on-disk YAML/JSON shape a schema file is written in; it
// mirrors graph.WorkflowSchema field for field plus a Kind tag per node
// selecting one of the built-in diagnostic node kinds.
type fileSchema struct {
	WorkflowType      string          `yaml:"workflow_type" json:"workflow_type"`
	Start             string          `yaml:"start" json:"start"`
	StrictUnreachable bool            `yaml:"strict_unreachable" json:"strict_unreachable"`
	Nodes             []fileNodeEntry `yaml:"nodes" json:"nodes"`
}

type fileNodeEntry struct {
	Key              string   `yaml:"key" json:"key"`
	Kind             string   `yaml:"kind" json:"kind"`
	Successors       []string `yaml:"successors" json:"successors"`
	ParallelChildren []string `yaml:"parallel_children" json:"parallel_children"`
	Reentrant        bool     `yaml:"reentrant" json:"reentrant"`
}

func loadSchema(path string) (graph.WorkflowSchema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return graph.WorkflowSchema{}, err
	}

	var fs fileSchema
	if err := yaml.Unmarshal(raw, &fs); err != nil {
		return graph.WorkflowSchema{}, fmt.Errorf("parse schema: %w", err)
	}

	schema := graph.WorkflowSchema{
		WorkflowType:      fs.WorkflowType,
		Start:             fs.Start,
		StrictUnreachable: fs.StrictUnreachable,
	}
	for _, n := range fs.Nodes {
		schema.Nodes = append(schema.Nodes, graph.NodeConfig{
			Key:              n.Key,
			Successors:       n.Successors,
			ParallelChildren: n.ParallelChildren,
			IsRouter:         n.Kind == "router",
			IsParallel:       n.Kind == "parallel",
			Reentrant:        n.Reentrant,
		})
	}
	return schema, nil
}

func loadInput(path string) (any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return v, nil
}

// registerBuiltins populates registry with diagnostic node kinds named in
// the file schema: a plain node echoes event data into its own output, a
// "router" node always routes to the first of its declared successors
// (enough to exercise routing wiring without a real decision function), and
// a "parallel" node is a pass-through container whose children are declared
// via parallel_children.
func registerBuiltins(registry *graph.NodeRegistry, schema graph.WorkflowSchema) error {
	for _, nc := range schema.Nodes {
		nc := nc
		echo := func(ctx context.Context, tc *graph.TaskContext) (*graph.TaskContext, error) {
			tc.SetNodeOutput(nc.Key, map[string]any{"event_data": tc.EventData()})
			return tc, nil
		}

		var node graph.Node
		switch {
		case nc.IsRouter:
			targets := nc.Successors
			node = graph.NewRouterFunc(nc.Key, targets, echo,
				func(ctx context.Context, tc *graph.TaskContext) (string, error) {
					if len(targets) == 0 {
						return "", graph.ErrValidationFailed("router " + nc.Key + " has no declared targets")
					}
					return targets[0], nil
				})
		case nc.IsParallel:
			node = graph.NewParallelFunc(nc.Key, nc.ParallelChildren, echo)
		default:
			node = graph.NewNodeFunc(nc.Key, echo)
		}
		if err := registry.Register(node); err != nil {
			return err
		}
	}
	return nil
}
