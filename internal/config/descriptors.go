// Package config loads the broker's static configuration: the descriptor
// file naming the simulator and the PLC endpoints, and the command line.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/ot-databroker/model"
)

// ErrNoSimulator is returned when the descriptor file names no simulator
// executable.
var ErrNoSimulator = errors.New("descriptor file needs a simulator executableName")

// scalar accepts a string, number or boolean and keeps its text, so
// "Port": 502 and "Port": "502" load the same.
type scalar string

func (s *scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = scalar(str)
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		return fmt.Errorf("expected a scalar, got %s", data)
	default:
		*s = scalar(data)
	}
	return nil
}

func (s *scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*s = ""
		return nil
	}
	*s = scalar(node.Value)
	return nil
}

type simulatorEntry struct {
	ExecutableName scalar `json:"executableName" yaml:"executableName"`
}

type endpointEntry struct {
	Node          scalar `json:"node" yaml:"node"`
	HostIP        scalar `json:"IP_Host" yaml:"IP_Host"`
	PlcIP         scalar `json:"IP_PLC" yaml:"IP_PLC"`
	Sensor        scalar `json:"sensor" yaml:"sensor"`
	SensorNames   scalar `json:"sensorNames" yaml:"sensorNames"`
	Actuator      scalar `json:"actuator" yaml:"actuator"`
	ActuatorNames scalar `json:"actuatorNames" yaml:"actuatorNames"`
	ScanTime      scalar `json:"scanTime" yaml:"scanTime"`
	TimeMem       scalar `json:"TimeMem" yaml:"TimeMem"`
	MemFormat     scalar `json:"MemFormat" yaml:"MemFormat"`
	Endianess     scalar `json:"Endianess" yaml:"Endianess"`
	Port          scalar `json:"Port" yaml:"Port"`
	MultiPLC      scalar `json:"MultiPLC" yaml:"MultiPLC"`
}

type descriptorFile struct {
	Simulator []simulatorEntry `json:"simulator" yaml:"simulator"`
	Endpoints []endpointEntry  `json:"endpoints" yaml:"endpoints"`
}

// LoadDescriptors reads a descriptor file. Files ending in .yaml or .yml
// are YAML; anything else is JSON.
func LoadDescriptors(path string) (model.DescriptorSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DescriptorSet{}, fmt.Errorf("read descriptor file: %w", err)
	}
	set, err := ParseDescriptors(data, isYAML(path))
	if err != nil {
		return model.DescriptorSet{}, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ParseDescriptors decodes descriptor file contents. The first simulator
// entry with an executableName wins. Endpoint entries are kept as written,
// including ones missing addresses; discovery reports and skips those.
func ParseDescriptors(data []byte, asYAML bool) (model.DescriptorSet, error) {
	var f descriptorFile
	if asYAML {
		if err := yaml.Unmarshal(data, &f); err != nil {
			return model.DescriptorSet{}, fmt.Errorf("parse yaml: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &f); err != nil {
			return model.DescriptorSet{}, fmt.Errorf("parse json: %w", err)
		}
	}

	var set model.DescriptorSet
	found := false
	for _, s := range f.Simulator {
		if s.ExecutableName != "" {
			set.Simulator = model.SimulatorSpec{Executable: string(s.ExecutableName)}
			found = true
			break
		}
	}
	if !found {
		return model.DescriptorSet{}, ErrNoSimulator
	}

	set.Endpoints = make([]model.EndpointDescriptor, 0, len(f.Endpoints))
	for _, e := range f.Endpoints {
		set.Endpoints = append(set.Endpoints, model.EndpointDescriptor{
			Node:             string(e.Node),
			HostIP:           string(e.HostIP),
			PlcIP:            string(e.PlcIP),
			SensorCount:      string(e.Sensor),
			SensorNames:      string(e.SensorNames),
			ActuatorCount:    string(e.Actuator),
			ActuatorNames:    string(e.ActuatorNames),
			ScanTime:         string(e.ScanTime),
			TimeMemoryOffset: string(e.TimeMem),
			MemoryFormat:     string(e.MemFormat),
			Endianness:       string(e.Endianess),
			Port:             string(e.Port),
			MultiPLC:         string(e.MultiPLC),
		})
	}
	return set, nil
}
