// Package compose resolves a vLLM service in a Docker Compose file to the
// container name and port vllmscope should talk to.
package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// File represents the parts of a compose file vllmscope reads.
type File struct {
	Name     string             `yaml:"name"`
	Services map[string]Service `yaml:"services"`

	dir string
}

// Service is a minimal service definition from a compose file.
type Service struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Ports         []string          `yaml:"ports"`
	Command       Command           `yaml:"command"`
	Labels        map[string]string `yaml:"labels"`
}

// Command accepts both the string and list forms of a compose command.
type Command []string

func (c *Command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*c = strings.Fields(node.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*c = list
		return nil
	default:
		return fmt.Errorf("command: unexpected yaml kind %d", node.Kind)
	}
}

// Target is a resolved service.
type Target struct {
	Service   string
	Container string
	// Port is the vLLM API port inside the container.
	Port int
	// HostPort is the published port, 0 when the API port is not published.
	HostPort int
}

const defaultPort = 8000

// Parse reads a compose file.
func Parse(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse compose file: %w", err)
	}
	f.dir = filepath.Dir(path)
	return &f, nil
}

// Project returns the compose project name: the file's name field, else the
// lowercased directory name, as docker compose does.
func (f *File) Project() string {
	if f.Name != "" {
		return f.Name
	}
	abs, err := filepath.Abs(f.dir)
	if err != nil {
		return ""
	}
	return strings.ToLower(filepath.Base(abs))
}

// FindVLLM returns the first service, by name, whose image mentions vllm.
func (f *File) FindVLLM() (string, bool) {
	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.Contains(strings.ToLower(f.Services[name].Image), "vllm") {
			return name, true
		}
	}
	return "", false
}

// Resolve looks up service, or the vLLM service when service is empty.
func (f *File) Resolve(service string) (Target, error) {
	if service == "" {
		name, ok := f.FindVLLM()
		if !ok {
			return Target{}, fmt.Errorf("no vllm service in compose file")
		}
		service = name
	}
	svc, ok := f.Services[service]
	if !ok {
		return Target{}, fmt.Errorf("service %q not in compose file", service)
	}

	t := Target{Service: service, Container: svc.ContainerName, Port: svc.Command.port()}
	if t.Container == "" {
		t.Container = fmt.Sprintf("%s-%s-1", f.Project(), service)
	}
	t.HostPort = publishedPort(svc.Ports, t.Port)
	return t, nil
}

// port returns the value of --port, else the vLLM default.
func (c Command) port() int {
	for i, arg := range c {
		var v string
		switch {
		case arg == "--port" && i+1 < len(c):
			v = c[i+1]
		case strings.HasPrefix(arg, "--port="):
			v = strings.TrimPrefix(arg, "--port=")
		default:
			continue
		}
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return defaultPort
}

// publishedPort finds the host side of a "[ip:]host:container[/proto]"
// mapping for containerPort.
func publishedPort(ports []string, containerPort int) int {
	for _, spec := range ports {
		spec = strings.SplitN(spec, "/", 2)[0]
		parts := strings.Split(spec, ":")
		if len(parts) < 2 {
			continue
		}
		cp, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil || cp != containerPort {
			continue
		}
		if hp, err := strconv.Atoi(parts[len(parts)-2]); err == nil {
			return hp
		}
	}
	return 0
}
