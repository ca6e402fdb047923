package config

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// instancesFlag holds the properties of the instances by instance name,
// as YAML:
//
//	-instances '{shop: {remoteUrlBase: "http://shop/", ttl: 60}}'
type instancesFlag struct {
	value     string
	instances map[string]map[string]string
}

func toInstances(raw map[string]map[string]any) map[string]map[string]string {
	instances := make(map[string]map[string]string, len(raw))
	for name, props := range raw {
		p := make(map[string]string, len(props))
		for k, v := range props {
			p[k] = scalarString(v)
		}

		instances[name] = p
	}

	return instances
}

func (f *instancesFlag) Set(value string) error {
	var raw map[string]map[string]any
	if err := yaml.Unmarshal([]byte(value), &raw); err != nil {
		return fmt.Errorf("failed to parse instances: %w", err)
	}

	f.instances = toInstances(raw)
	f.value = value
	return nil
}

func (f *instancesFlag) UnmarshalYAML(unmarshal func(any) error) error {
	var raw map[string]map[string]any
	if err := unmarshal(&raw); err != nil {
		return err
	}

	f.instances = toInstances(raw)
	return nil
}

func (f *instancesFlag) String() string {
	if f == nil {
		return ""
	}

	return f.value
}
