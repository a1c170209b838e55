package importer

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/request"
)

// DefinitionParser reads restflow's own definition files: a single request
// mapping, a list of them, or a document with a top-level "requests" list.
// JSON input is accepted since YAML is a superset.
type DefinitionParser struct{}

func (DefinitionParser) Name() string { return "definition" }

type definitionFile struct {
	Requests []request.Definition `yaml:"requests"`
}

func (DefinitionParser) Parse(source string) ([]request.Definition, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(source), &node); err != nil {
		// Not YAML at all, so not ours.
		return nil, nil
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]

	var defs []request.Definition
	switch root.Kind {
	case yaml.SequenceNode:
		if len(root.Content) == 0 || !hasKey(root.Content[0], "url") {
			return nil, nil
		}
		if err := root.Decode(&defs); err != nil {
			return nil, errdef.Wrap(errdef.CodeParse, err, "decode definitions")
		}
	case yaml.MappingNode:
		switch {
		case hasKey(root, "requests"):
			var file definitionFile
			if err := root.Decode(&file); err != nil {
				return nil, errdef.Wrap(errdef.CodeParse, err, "decode definitions")
			}
			defs = file.Requests
		case hasKey(root, "url"):
			var def request.Definition
			if err := root.Decode(&def); err != nil {
				return nil, errdef.Wrap(errdef.CodeParse, err, "decode definition")
			}
			defs = []request.Definition{def}
		default:
			return nil, nil
		}
	default:
		return nil, nil
	}

	for i := range defs {
		if strings.TrimSpace(defs[i].URL) == "" {
			return nil, errdef.New(errdef.CodeParse, "definition %d has no url", i+1)
		}
		defs[i].Body.Type = defs[i].Body.Type.Normalize()
	}
	if defs == nil {
		defs = []request.Definition{}
	}
	return defs, nil
}

func hasKey(n *yaml.Node, key string) bool {
	if n.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return true
		}
	}
	return false
}
