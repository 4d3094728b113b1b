// Package predicate compiles CEL expressions used to accept identifiers and
// select records.
//
// Identifier expressions see one string variable, id. Record expressions see
// id, name and shortName as strings and the whole record as the map record.
//
//	size(id) == 11 && id.matches('^[A-Za-z][A-Za-z0-9]{10}$')
//	record.?domainType.orValue('') == 'TRACKER' && !name.startsWith('Old')
package predicate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"metarecon/pkg/domain"
)

// ErrNotBool is returned when an expression does not produce a bool.
var ErrNotBool = errors.New("predicate: expression must evaluate to bool")

// Compiler compiles and caches programs by expression text.
type Compiler struct {
	idEnv     *cel.Env
	recordEnv *cel.Env
	ids       sync.Map
	records   sync.Map
}

// NewCompiler builds the two CEL environments.
func NewCompiler() (*Compiler, error) {
	idEnv, err := cel.NewEnv(cel.Variable("id", cel.StringType))
	if err != nil {
		return nil, fmt.Errorf("predicate: id env: %w", err)
	}
	recordEnv, err := cel.NewEnv(
		cel.OptionalTypes(),
		cel.Variable("id", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("shortName", cel.StringType),
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("predicate: record env: %w", err)
	}
	return &Compiler{idEnv: idEnv, recordEnv: recordEnv}, nil
}

// ID compiles expr into an identifier validity function. Evaluation errors
// count as rejection.
func (c *Compiler) ID(expr string) (func(string) bool, error) {
	prg, err := c.load(c.idEnv, &c.ids, expr)
	if err != nil {
		return nil, err
	}
	return func(id string) bool {
		ok, err := evalBool(prg, map[string]any{"id": id})
		return err == nil && ok
	}, nil
}

// Record compiles expr into a record filter.
func (c *Compiler) Record(expr string) (func(domain.Record) (bool, error), error) {
	prg, err := c.load(c.recordEnv, &c.records, expr)
	if err != nil {
		return nil, err
	}
	return func(r domain.Record) (bool, error) {
		raw, err := r.MarshalJSON()
		if err != nil {
			return false, err
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return false, err
		}
		return evalBool(prg, map[string]any{
			"id":        r.ID(),
			"name":      r.Name(),
			"shortName": r.ShortName(),
			"record":    fields,
		})
	}, nil
}

func (c *Compiler) load(env *cel.Env, cache *sync.Map, expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("predicate: expression required")
	}
	if cached, ok := cache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("predicate: compile %q: %w", expr, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: %q has type %s", ErrNotBool, expr, out)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("predicate: program %q: %w", expr, err)
	}
	cache.Store(expr, prg)
	return prg, nil
}

func evalBool(prg cel.Program, vars map[string]any) (bool, error) {
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, ErrNotBool
	}
	return v, nil
}
