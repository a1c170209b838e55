// Package importer turns external request formats into request definitions.
package importer

import (
	"strings"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/request"
)

// Parser converts one source format. A nil slice with a nil error means the
// source is not in the parser's format.
type Parser interface {
	Name() string
	Parse(source string) ([]request.Definition, error)
}

func DefaultParsers() []Parser {
	return []Parser{PostmanParser{}, CurlParser{}, DefinitionParser{}}
}

// Detect tries each parser in order and returns the first that recognises
// the source along with its name.
func Detect(source string, parsers ...Parser) ([]request.Definition, string, error) {
	if strings.TrimSpace(source) == "" {
		return nil, "", errdef.New(errdef.CodeParse, "empty import source")
	}
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}
	for _, p := range parsers {
		defs, err := p.Parse(source)
		if err != nil {
			return nil, p.Name(), err
		}
		if defs != nil {
			return defs, p.Name(), nil
		}
	}
	return nil, "", errdef.New(errdef.CodeParse, "unrecognised import format")
}

// ByName looks up a default parser.
func ByName(name string) (Parser, bool) {
	for _, p := range DefaultParsers() {
		if strings.EqualFold(p.Name(), strings.TrimSpace(name)) {
			return p, true
		}
	}
	return nil, false
}
