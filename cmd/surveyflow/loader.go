package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"surveyflow/internal/model"
	"surveyflow/internal/schema"
)

// surveyFile is the on-disk survey definition
type surveyFile struct {
	model.Survey `yaml:",inline"`
	Rules        []model.LogicRule `yaml:"rules"`
}

func loadSurvey(ctx context.Context, path string) (surveyFile, error) {
	var sf surveyFile

	raw, err := os.ReadFile(path)
	if err != nil {
		return sf, fmt.Errorf("read survey: %w", err)
	}

	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return sf, fmt.Errorf("parse survey: %w", err)
	}

	compiler, err := schema.NewCompilerWithCache(4)
	if err != nil {
		return sf, err
	}
	if err := compiler.Validate(ctx, schema.SurveyDefinition, tree); err != nil {
		return sf, fmt.Errorf("%s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return sf, fmt.Errorf("decode survey: %w", err)
	}

	for i := range sf.Sections {
		sf.Sections[i].SurveyID = sf.ID
	}
	for i := range sf.Questions {
		sf.Questions[i].SurveyID = sf.ID
	}
	for i := range sf.Rules {
		sf.Rules[i].SurveyID = sf.ID
		if sf.Rules[i].ID == 0 {
			sf.Rules[i].ID = int64(i + 1)
		}
	}
	return sf, nil
}
