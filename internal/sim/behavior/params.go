package behavior

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Params maps placeholder names (without the leading '$') to substitute values.
type Params map[string]string

func (p *Params) UnmarshalYAML(n *yaml.Node) error {
	out, err := ParamsFromNode(n)
	if err != nil {
		return err
	}
	*p = out
	return nil
}

// ParamsFromNode reads a YAML mapping of scalar values. Values keep their
// textual form, so `yaw: 1.50` substitutes as "1.50".
func ParamsFromNode(n *yaml.Node) (Params, error) {
	out := Params{}
	if n == nil || n.Kind == 0 {
		return out, nil
	}
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return out, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: params must be a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: %w: param values must be scalars", k.Line, ErrNotScalar)
		}
		out[k.Value] = v.Value
	}
	return out, nil
}

// Merge returns defaults overlaid with overrides. Neither input is modified.
func Merge(defaults, overrides Params) Params {
	out := make(Params, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Interpolate replaces every $name placeholder with its value. At each '$'
// the longest matching name wins; substituted text is not scanned again.
// Placeholders without a value are left as-is.
func Interpolate(s string, p Params) string {
	if len(p) == 0 || !strings.Contains(s, "$") {
		return s
	}
	names := make([]string, 0, len(p))
	for k := range p {
		if k != "" {
			names = append(names, k)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '$' {
			rest := s[i+1:]
			matched := false
			for _, name := range names {
				if strings.HasPrefix(rest, name) {
					sb.WriteString(p[name])
					i += 1 + len(name)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
		}
		sb.WriteByte(s[i])
		i++
	}
	return sb.String()
}
