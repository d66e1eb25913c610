package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	openrtm "github.com/n-ando/OpenRTM-aist-sub001"
	"github.com/n-ando/OpenRTM-aist-sub001/ec"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// ManagerFile is the YAML document rtcd run starts from.
//
//	name: demo
//	properties:
//	  exec_cxt: {periodic: {rate: 10}}
//	components:
//	  - SeqOut?instance_name=out
//	  - SeqIn?instance_name=in
//	connections:
//	  - name: seq
//	    ports: [out.out, in.in]
//	    properties: {dataport.subscription_type: new}
//	activate: [in, out]
//	rates:
//	  out.ec0: 20
type ManagerFile struct {
	Name        string             `yaml:"name"`
	Properties  map[string]any     `yaml:"properties"`
	Components  []string           `yaml:"components"`
	Connections []ConnectionSpec   `yaml:"connections"`
	Activate    []string           `yaml:"activate"`
	Rates       map[string]float64 `yaml:"rates"`
}

// ConnectionSpec connects ports named "<instance>.<port>".
type ConnectionSpec struct {
	Name       string            `yaml:"name"`
	Ports      []string          `yaml:"ports"`
	Properties map[string]string `yaml:"properties"`
}

// loadManagerFile reads and decodes path.
func loadManagerFile(path string) (*ManagerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manager file: %w", err)
	}
	var mf ManagerFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("decode manager file %s: %w", path, err)
	}
	return &mf, nil
}

// FlatProperties returns the properties section as dotted keys. Nested
// sections join with "." and lists join with ",".
func (mf *ManagerFile) FlatProperties() map[string]string {
	out := make(map[string]string)
	flatten("", mf.Properties, out)
	return out
}

func flatten(prefix string, v any, out map[string]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flatten(join(prefix, k), child, out)
		}
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			items = append(items, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(items, ",")
	case nil:
		if prefix != "" {
			out[prefix] = ""
		}
	default:
		out[prefix] = fmt.Sprint(t)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// managerFileInitializer creates, connects and activates the components of a
// manager file.
type managerFileInitializer struct {
	file *ManagerFile
}

func (i managerFileInitializer) Initialize(ctx context.Context, m *openrtm.Manager) (context.Context, error) {
	for _, spec := range i.file.Components {
		if _, err := m.CreateComponent(ctx, spec); err != nil {
			return ctx, err
		}
	}
	for _, conn := range i.file.Connections {
		if _, err := m.Connect(ctx, conn.Name, conn.Properties, conn.Ports...); err != nil {
			return ctx, fmt.Errorf("connect %s: %w", conn.Name, err)
		}
	}
	if err := applyRates(m, i.file.Rates); err != nil {
		return ctx, err
	}
	for _, target := range i.file.Activate {
		name, id, err := parseActivation(target)
		if err != nil {
			return ctx, err
		}
		c, err := m.Component(name)
		if err != nil {
			return ctx, err
		}
		if err := c.Activate(ctx, id); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

// parseActivation reads "<instance>" or "<instance>:<ec id>".
func parseActivation(target string) (string, ec.ID, error) {
	name, raw, ok := strings.Cut(target, ":")
	if !ok {
		return name, 0, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return "", ec.NoID, rterr.BadParameter("activate", target, "bad context id %q", raw)
	}
	return name, ec.ID(id), nil
}

// applyRates sets the rate of every named context owned by a component of m.
func applyRates(m *openrtm.Manager, rates map[string]float64) error {
	contexts := make(map[string]ec.ExecutionContext)
	for _, c := range m.Components() {
		for _, x := range c.OwnedContexts() {
			contexts[x.Name()] = x
		}
	}
	for _, name := range slices.Sorted(maps.Keys(rates)) {
		x, ok := contexts[name]
		if !ok {
			return rterr.NotFound("set_rate", name, "no such execution context")
		}
		if x.Rate() == rates[name] {
			continue
		}
		if err := x.SetRate(rates[name]); err != nil {
			return err
		}
	}
	return nil
}
