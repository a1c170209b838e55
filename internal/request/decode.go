package request

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Hand-written definitions usually omit "enabled"; an absent flag means the
// entry is active.

func (kv *KeyValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key     string `json:"key"`
		Value   string `json:"value"`
		Enabled *bool  `json:"enabled"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*kv = KeyValue{Key: raw.Key, Value: raw.Value, Enabled: raw.Enabled == nil || *raw.Enabled}
	return nil
}

func (kv *KeyValue) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Key     string `yaml:"key"`
		Value   string `yaml:"value"`
		Enabled *bool  `yaml:"enabled"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*kv = KeyValue{Key: raw.Key, Value: raw.Value, Enabled: raw.Enabled == nil || *raw.Enabled}
	return nil
}

type formFieldWire struct {
	Key         string    `json:"key"         yaml:"key"`
	Value       string    `json:"value"       yaml:"value"`
	Type        FieldType `json:"type"        yaml:"type"`
	FileName    string    `json:"fileName"    yaml:"fileName"`
	ContentType string    `json:"contentType" yaml:"contentType"`
	Enabled     *bool     `json:"enabled"     yaml:"enabled"`
}

func (w formFieldWire) field() FormField {
	return FormField{
		Key:         w.Key,
		Value:       w.Value,
		Type:        w.Type,
		FileName:    w.FileName,
		ContentType: w.ContentType,
		Enabled:     w.Enabled == nil || *w.Enabled,
	}
}

func (f *FormField) UnmarshalJSON(data []byte) error {
	var raw formFieldWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = raw.field()
	return nil
}

func (f *FormField) UnmarshalYAML(node *yaml.Node) error {
	var raw formFieldWire
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*f = raw.field()
	return nil
}
