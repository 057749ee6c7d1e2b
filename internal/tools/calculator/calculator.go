// Package calculator provides the "calculate" tool, which evaluates an
// arithmetic expression with CEL.
//
// Expressions are restricted to numeric arithmetic: integer literals are
// promoted to doubles before compilation so that "7 / 2" yields 3.5, and a
// French decimal comma ("3,5") is accepted. The remainder operator works on
// doubles with the sign of the dividend. The math extension library is
// available (math.floor, math.round, math.abs, ...).
package calculator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/MrWong99/uplink/internal/tools"
	"github.com/MrWong99/uplink/pkg/provider/live"
)

// costLimit caps evaluation work for a single expression.
const costLimit = 10_000

// maxExpressionLen rejects pathological input before compilation.
const maxExpressionLen = 512

var (
	decimalComma = regexp.MustCompile(`(\d),(\d)`)
	numberToken  = regexp.MustCompile(`\d+(\.\d+)?([eE][+-]?\d+)?`)
)

// Calculator compiles and evaluates expressions. The zero value is not
// usable; create instances with [New].
type Calculator struct {
	env *cel.Env
}

// New builds the CEL environment.
func New() (*Calculator, error) {
	env, err := cel.NewEnv(ext.Math(), doubleModulo())
	if err != nil {
		return nil, fmt.Errorf("calculator: create env: %w", err)
	}
	return &Calculator{env: env}, nil
}

// doubleModulo adds a double overload to "%", which CEL only defines for
// integers. Literals are always doubles after normalize.
func doubleModulo() cel.EnvOption {
	return cel.Function(operators.Modulo,
		cel.Overload("modulo_double_double",
			[]*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				l, lok := lhs.(types.Double)
				r, rok := rhs.(types.Double)
				if !lok || !rok {
					return types.NewErr("no such overload")
				}
				return types.Double(math.Mod(float64(l), float64(r)))
			}),
		),
	)
}

// normalize rewrites an expression into CEL double arithmetic.
func normalize(expr string) string {
	r := strings.NewReplacer("×", "*", "÷", "/", "−", "-")
	expr = r.Replace(strings.TrimSpace(expr))
	expr = decimalComma.ReplaceAllString(expr, "$1.$2")
	return numberToken.ReplaceAllStringFunc(expr, func(tok string) string {
		if strings.ContainsAny(tok, ".eE") {
			return tok
		}
		return tok + ".0"
	})
}

// Eval evaluates expr and returns a finite number.
func (c *Calculator) Eval(expr string) (float64, error) {
	if strings.TrimSpace(expr) == "" {
		return 0, errors.New("calculator: expression must not be empty")
	}
	if len(expr) > maxExpressionLen {
		return 0, fmt.Errorf("calculator: expression longer than %d bytes", maxExpressionLen)
	}

	ast, iss := c.env.Compile(normalize(expr))
	if iss != nil && iss.Err() != nil {
		return 0, fmt.Errorf("calculator: invalid expression %q: %w", expr, iss.Err())
	}
	prg, err := c.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return 0, fmt.Errorf("calculator: program: %w", err)
	}
	out, _, err := prg.Eval(map[string]any{})
	if err != nil {
		return 0, fmt.Errorf("calculator: evaluate %q: %w", expr, err)
	}

	var v float64
	switch n := out.Value().(type) {
	case float64:
		v = n
	case int64:
		v = float64(n)
	case uint64:
		v = float64(n)
	default:
		return 0, fmt.Errorf("calculator: %q is not a numeric expression (got %s)", expr, out.Type().TypeName())
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("calculator: %q has no finite result", expr)
	}
	return v, nil
}

type calcArgs struct {
	Expression string `json:"expression"`
}

// Tools returns the calculate tool bound to c.
func Tools(c *Calculator) []tools.Tool {
	return []tools.Tool{{
		Definition: live.ToolDefinition{
			Name:        "calculate",
			Description: "Evaluate an arithmetic expression such as \"(12.5 + 3) * 4\" or \"10 % 3\" and return the numeric result.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{"type": "string"},
				},
				"required": []string{"expression"},
			},
		},
		Handler: func(_ context.Context, args string) (string, error) {
			var a calcArgs
			if err := json.Unmarshal([]byte(args), &a); err != nil {
				return "", fmt.Errorf("calculator: failed to parse arguments: %w", err)
			}
			v, err := c.Eval(a.Expression)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s = %s", strings.TrimSpace(a.Expression), strconv.FormatFloat(v, 'f', -1, 64)), nil
		},
	}}
}
