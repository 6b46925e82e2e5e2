package config

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestConfigYAMLRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Path = "/videos/final.mp4"
	cfg.Run.Annotate = true
	cfg.Detector.Regions = []string{"left"}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("yaml.Marshal() error: %v", err)
	}
	if !strings.Contains(string(data), "flush_timeout_sec: 30") {
		t.Errorf("Expected snake_case keys in YAML:\n%s", data)
	}

	var back Config
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("yaml.Unmarshal() error: %v", err)
	}
	if !reflect.DeepEqual(cfg, back) {
		t.Errorf("YAML round trip mismatch:\nwant %+v\ngot  %+v", cfg, back)
	}
}

func TestConfigJSONKeys(t *testing.T) {
	data, err := json.Marshal(DefaultConfig())
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	var raw map[string]map[string]any
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}
	raw = make(map[string]map[string]any)
	for _, section := range []string{"source", "run", "cliff", "pipeline", "detector", "gpu", "server"} {
		var m map[string]any
		if err := json.Unmarshal(top[section], &m); err != nil {
			t.Fatalf("section %s: %v", section, err)
		}
		raw[section] = m
	}

	checks := map[string]string{
		"source":   "frame_pattern",
		"run":      "regions_file",
		"cliff":    "min_prepoint_duration",
		"pipeline": "max_reorder_depth",
		"detector": "class_names_file",
		"gpu":      "memory_limit",
		"server":   "requests_per_minute",
	}
	for section, key := range checks {
		if _, ok := raw[section][key]; !ok {
			t.Errorf("Expected key %s.%s in JSON", section, key)
		}
	}
}

// TestStructTags checks every field carries matching mapstructure, yaml and
// json names so viper, the YAML writer and the API agree.
func TestStructTags(t *testing.T) {
	types := []reflect.Type{
		reflect.TypeOf(Config{}),
		reflect.TypeOf(SourceConfig{}),
		reflect.TypeOf(RunConfig{}),
		reflect.TypeOf(PipelineConfig{}),
		reflect.TypeOf(DetectorConfig{}),
		reflect.TypeOf(GPUConfig{}),
		reflect.TypeOf(ServerConfig{}),
		reflect.TypeOf(Config{}.Cliff),
	}
	for _, typ := range types {
		for i := range typ.NumField() {
			f := typ.Field(i)
			ms, y, j := f.Tag.Get("mapstructure"), f.Tag.Get("yaml"), f.Tag.Get("json")
			if ms == "" || ms != y || ms != j {
				t.Errorf("%s.%s: tags disagree (mapstructure=%q yaml=%q json=%q)", typ.Name(), f.Name, ms, y, j)
			}
		}
	}
}
