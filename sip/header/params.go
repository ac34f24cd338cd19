package header

import "strings"

// Param is a single `;name` or `;name=value` header parameter.
type Param struct {
	Name     string
	Value    string
	HasValue bool
}

// Params is an ordered list of header parameters. Order is preserved for
// faithful re-serialization; lookups are case-insensitive on Name.
type Params []Param

// Get returns the value of the first parameter named name and whether it
// was present at all (HasValue distinguishes ";tag" from ";tag=").
func (p Params) Get(name string) (string, bool) {
	for _, pr := range p {
		if strings.EqualFold(pr.Name, name) {
			return pr.Value, true
		}
	}
	return "", false
}

// Set adds or replaces the parameter named name.
func (p Params) Set(name, value string) Params {
	for i, pr := range p {
		if strings.EqualFold(pr.Name, name) {
			p[i].Value = value
			p[i].HasValue = true
			return p
		}
	}
	return append(p, Param{Name: name, Value: value, HasValue: true})
}

// Clone returns a copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	copy(out, p)
	return out
}

// Equal compares two parameter lists ignoring order, case-insensitive on
// name, case-sensitive on value (matching the teacher's ViaHop.Equal
// treatment of maddr/ttl/received/branch).
func (p Params) Equal(other Params) bool {
	if len(p) != len(other) {
		return false
	}
	for _, pr := range p {
		v, ok := other.Get(pr.Name)
		if !ok || v != pr.Value {
			return false
		}
	}
	return true
}

func (p Params) render(sb *strings.Builder) {
	for _, pr := range p {
		sb.WriteByte(';')
		sb.WriteString(pr.Name)
		if pr.HasValue {
			sb.WriteByte('=')
			sb.WriteString(pr.Value)
		}
	}
}

// parseParams splits a ";name=value;name2" suffix into Params.
func parseParams(s string) Params {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	params := make(Params, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			params = append(params, Param{Name: part[:i], Value: part[i+1:], HasValue: true})
		} else {
			params = append(params, Param{Name: part})
		}
	}
	return params
}
