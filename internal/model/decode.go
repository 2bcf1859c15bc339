package model

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// UnmarshalJSON treats a rule without an isActive field as active.
func (r *LogicRule) UnmarshalJSON(data []byte) error {
	type plain LogicRule
	p := plain{IsActive: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = LogicRule(p)
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for survey definition files.
func (r *LogicRule) UnmarshalYAML(node *yaml.Node) error {
	type plain LogicRule
	p := plain{IsActive: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = LogicRule(p)
	return nil
}
