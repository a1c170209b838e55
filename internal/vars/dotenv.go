package vars

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/restflow/internal/errdef"
)

const (
	dotEnvDefaultName = "default"
	envNameKey        = "RESTFLOW_ENV_NAME"
)

// EnvironmentSet maps environment ids to their variables.
type EnvironmentSet map[string]map[string]string

// detection keeps JSON discovery stable by requiring names that intentionally look like .env files
func IsDotEnvPath(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || ext == ".yaml" || ext == ".yml" {
		return false
	}
	if base == ".env" {
		return true
	}
	if strings.HasPrefix(base, ".env.") {
		return true
	}
	if strings.HasSuffix(base, ".env") {
		return true
	}
	return false
}

// LoadEnvironmentFile reads either a dotenv file (one environment, named after
// the file) or a YAML/JSON document. A document whose values are all mappings
// is a set of named environments; otherwise it is a single flat environment.
func LoadEnvironmentFile(path string) (EnvironmentSet, error) {
	if IsDotEnvPath(path) {
		return loadDotEnvEnvironment(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read env file %s", path)
	}

	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "parse env file %s", path)
	}
	return environmentsFromDoc(doc, deriveEnvName(nil, path)), nil
}

func loadDotEnvEnvironment(path string) (EnvironmentSet, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdef.Wrap(errdef.CodeFilesystem, err, "open env file %s", path)
		}
		return nil, errdef.Wrap(errdef.CodeParse, err, "parse env file %s", path)
	}

	envName := deriveEnvName(values, path)
	delete(values, envNameKey)
	return EnvironmentSet{envName: values}, nil
}

func environmentsFromDoc(doc map[string]any, fallbackName string) EnvironmentSet {
	nested := len(doc) > 0
	for _, v := range doc {
		if _, ok := v.(map[string]any); !ok {
			nested = false
			break
		}
	}

	envs := make(EnvironmentSet)
	if !nested {
		envs[fallbackName] = flatten(doc)
		return envs
	}
	for name, v := range doc {
		envs[name] = flatten(v.(map[string]any))
	}
	return envs
}

func flatten(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch typed := v.(type) {
		case string:
			out[k] = typed
		case nil:
			out[k] = ""
		case map[string]any, []any:
			data, err := json.Marshal(typed)
			if err != nil {
				continue
			}
			out[k] = string(data)
		default:
			out[k] = stringify(typed)
		}
	}
	return out
}

func stringify(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(data), `"`)
}

func deriveEnvName(values map[string]string, path string) string {
	// an explicit name key lets users rename environments without touching filenames
	if name := strings.TrimSpace(values[envNameKey]); name != "" {
		return name
	}

	base := filepath.Base(path)
	lower := strings.ToLower(base)
	switch {
	case lower == ".env":
		return dotEnvDefaultName
	case strings.HasPrefix(lower, ".env.") && len(base) > len(".env."):
		return strings.TrimSpace(base[len(".env."):])
	case strings.HasSuffix(lower, ".env") && len(base) > len(".env"):
		return strings.TrimSpace(base[:len(base)-len(".env")])
	}

	stem := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" || strings.EqualFold(stem, ".env") {
		return dotEnvDefaultName
	}
	return stem
}
