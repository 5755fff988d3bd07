// Package hclfile - Strategy and bundle catalog sources read from HCL files
// Values are decoded without an evaluation context: references, functions
// and unknowns are rejected rather than guessed.
package hclfile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// toGo converts a cty value into plain Go values. Numbers become
// json.Number so money keeps its exact decimal text.
func toGo(val cty.Value) (interface{}, error) {
	if !val.IsKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	if val.IsNull() {
		return nil, nil
	}

	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil

	case ty == cty.Number:
		return json.Number(val.AsBigFloat().Text('f', -1)), nil

	case ty == cty.Bool:
		return val.True(), nil

	case ty.IsListType() || ty.IsSetType() || ty.IsTupleType():
		out := make([]interface{}, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			gv, err := toGo(v)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil

	case ty.IsMapType() || ty.IsObjectType():
		out := make(map[string]interface{}, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			gv, err := toGo(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k.AsString(), err)
			}
			out[k.AsString()] = gv
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
}

// attrs wraps a block's attributes with typed getters. The first failure
// is kept in diags and later getters still return zero values.
type attrs struct {
	byName hcl.Attributes
	diags  hcl.Diagnostics
}

func (a *attrs) fail(attr *hcl.Attribute, summary string, err error) {
	a.diags = append(a.diags, &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf("%s: %v", attr.Name, err),
		Subject:  attr.Expr.Range().Ptr(),
	})
}

func (a *attrs) value(name string) (interface{}, bool) {
	attr, ok := a.byName[name]
	if !ok {
		return nil, false
	}
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		a.diags = append(a.diags, diags...)
		return nil, false
	}
	gv, err := toGo(val)
	if err != nil {
		a.fail(attr, "Invalid value", err)
		return nil, false
	}
	return gv, true
}

func (a *attrs) str(name string) string {
	v, ok := a.value(name)
	if !ok || v == nil {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		a.fail(a.byName[name], "Expected a string", fmt.Errorf("got %T", v))
	}
	return s
}

func (a *attrs) boolean(name string, def bool) bool {
	v, ok := a.value(name)
	if !ok || v == nil {
		return def
	}
	b, isBool := v.(bool)
	if !isBool {
		a.fail(a.byName[name], "Expected a bool", fmt.Errorf("got %T", v))
		return def
	}
	return b
}

func (a *attrs) integer(name string) int {
	v, ok := a.value(name)
	if !ok || v == nil {
		return 0
	}
	n, isNum := v.(json.Number)
	if !isNum {
		a.fail(a.byName[name], "Expected a number", fmt.Errorf("got %T", v))
		return 0
	}
	i, err := n.Int64()
	if err != nil {
		a.fail(a.byName[name], "Expected a whole number", err)
		return 0
	}
	return int(i)
}

func (a *attrs) object(name string) map[string]interface{} {
	v, ok := a.value(name)
	if !ok || v == nil {
		return nil
	}
	m, isMap := v.(map[string]interface{})
	if !isMap {
		a.fail(a.byName[name], "Expected an object", fmt.Errorf("got %T", v))
	}
	return m
}

func (a *attrs) timestamp(name string) *time.Time {
	s := a.str(name)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		a.fail(a.byName[name], "Expected an RFC 3339 timestamp", err)
		return nil
	}
	return &t
}
