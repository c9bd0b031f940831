package automatisering

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

// Regel is a named expression over the fakta that must evaluate to true for
// the case to be automated. Its name is the reason given when it does not.
type Regel struct {
	Navn    string `yaml:"navn"`
	Uttrykk string `yaml:"uttrykk"`
}

type regelfil struct {
	Regler []Regel `yaml:"regler"`
}

// LesRegler reads rules from a YAML file of the form
//
//	regler:
//	  - navn: Beløp over grense
//	    uttrykk: fakta.belop < 100000
func LesRegler(path string) ([]Regel, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("automatisering: read rules: %w", err)
	}
	return ParseRegler(data)
}

// ParseRegler decodes rules from YAML.
func ParseRegler(data []byte) ([]Regel, error) {
	var f regelfil
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("automatisering: parse rules: %w", err)
	}
	for i, r := range f.Regler {
		if r.Navn == "" || r.Uttrykk == "" {
			return nil, fmt.Errorf("automatisering: rule %d: navn and uttrykk are required", i)
		}
	}
	return f.Regler, nil
}

type kompilertRegel struct {
	navn string
	prg  cel.Program
}

// Regelsett holds compiled rules. It is safe for concurrent use.
type Regelsett struct {
	regler []kompilertRegel
}

// NyttRegelsett compiles every rule up front so a bad expression fails at
// startup rather than on the first case that reaches it.
func NyttRegelsett(regler []Regel) (*Regelsett, error) {
	env, err := cel.NewEnv(cel.Variable("fakta", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("automatisering: create CEL environment: %w", err)
	}
	rs := &Regelsett{regler: make([]kompilertRegel, 0, len(regler))}
	var errs []error
	for _, r := range regler {
		ast, issues := env.Compile(r.Uttrykk)
		if issues != nil && issues.Err() != nil {
			errs = append(errs, fmt.Errorf("rule %q: compile: %w", r.Navn, issues.Err()))
			continue
		}
		if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
			errs = append(errs, fmt.Errorf("rule %q: expression has type %s, want bool", r.Navn, t))
			continue
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: program: %w", r.Navn, err))
			continue
		}
		rs.regler = append(rs.regler, kompilertRegel{navn: r.Navn, prg: prg})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("automatisering: %w", err)
	}
	return rs, nil
}

// Len returns the number of rules.
func (rs *Regelsett) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.regler)
}

// Evaluer returns the names of the rules that did not hold, in file order.
// A rule that cannot be evaluated counts as not holding.
func (rs *Regelsett) Evaluer(f Fakta) []string {
	if rs == nil {
		return nil
	}
	input := f.celInput()
	var brudd []string
	for _, r := range rs.regler {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			brudd = append(brudd, r.navn+" (kunne ikke evalueres)")
			continue
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			brudd = append(brudd, r.navn+" (kunne ikke evalueres)")
			continue
		}
		if !ok {
			brudd = append(brudd, r.navn)
		}
	}
	return brudd
}
