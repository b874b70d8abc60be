package coordinator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// call is one ".name(args)" link of a fluent query-chain string.
type call struct {
	Name string
	Args string
}

// splitCalls tokenizes a fluent-chain query string such as
// `Query::from("default_logical").filter(value<42).sink(print)` into its
// ordered method calls, respecting nested parens and quoted strings.
func splitCalls(s string) ([]call, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Query::")

	var calls []call
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == '.' || s[i] == ' ') {
			i++
		}
		if i >= len(s) {
			break
		}
		start := i
		for i < len(s) && s[i] != '(' {
			i++
		}
		if i >= len(s) {
			return nil, fmt.Errorf("coordinator: unterminated call %q", s[start:])
		}
		name := strings.TrimSpace(s[start:i])

		depth := 0
		inQuote := false
		argStart := i
		for ; i < len(s); i++ {
			switch s[i] {
			case '"':
				inQuote = !inQuote
			case '(':
				if !inQuote {
					depth++
				}
			case ')':
				if !inQuote {
					depth--
					if depth == 0 {
						i++
						goto doneCall
					}
				}
			}
		}
		return nil, fmt.Errorf("coordinator: unbalanced parens in %q", s[argStart:])
	doneCall:
		calls = append(calls, call{Name: name, Args: s[argStart+1 : i-1]})
	}
	return calls, nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	return strings.Trim(s, `"`)
}

// parseOperand parses a field reference or numeric literal.
func parseOperand(s string) *types.Expr {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return types.LiteralExpr(f)
	}
	return types.FieldRef(s)
}

// parseCondition parses a single comparison such as "value<42" or
// "a.k<10" into an Expr. The grammar is intentionally minimal: one
// comparison operator between a field reference and a field or literal
// (spec.md does not define a full expression language; see DESIGN.md).
func parseCondition(s string) (*types.Expr, error) {
	s = strings.TrimSpace(s)
	for _, op := range []string{"<=", ">=", "!=", "==", "<", ">", "="} {
		if idx := strings.Index(s, op); idx >= 0 {
			left := s[:idx]
			right := s[idx+len(op):]
			canon := op
			if op == "==" {
				canon = "="
			}
			return types.BinaryExpr(canon, parseOperand(left), parseOperand(right)), nil
		}
	}
	return nil, fmt.Errorf("coordinator: cannot parse condition %q", s)
}

// splitArgs splits a top-level comma list, respecting nested parens.
func splitArgs(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if start < len(s) {
		out = append(out, strings.TrimSpace(s[start:]))
	}
	return out
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("coordinator: invalid duration %q: %w", s, err)
	}
	return d, nil
}

// parseWindowKind maps the fluent DSL's window-kind identifiers.
func parseWindowKind(s string) (types.WindowKind, error) {
	switch strings.TrimSpace(s) {
	case "Tumbling":
		return types.WindowTumbling, nil
	case "Sliding":
		return types.WindowSliding, nil
	case "Threshold":
		return types.WindowThreshold, nil
	default:
		return "", fmt.Errorf("coordinator: unknown window kind %q", s)
	}
}

// queryBuilder accumulates a LogicalPlan while walking a call chain.
type queryBuilder struct {
	plan    *types.LogicalPlan
	sources *SourceCatalog
	cur     types.OperatorId
	schema  types.Schema
}

// ParseQuery compiles a fluent-chain textual query (spec.md §8 S1-S5
// syntax) into a LogicalPlan. It is a deliberately minimal grammar
// covering from/filter/project/joinWith+where+equalsTo+window/
// window+byKey+apply/sink — a full query language is out of scope
// (spec.md §1 "SQL surface syntax" Non-goal; see DESIGN.md).
func ParseQuery(text string, sources *SourceCatalog) (*types.LogicalPlan, error) {
	calls, err := splitCalls(text)
	if err != nil {
		return nil, errs.Validation(err.Error(), err)
	}
	if len(calls) == 0 || calls[0].Name != "from" {
		return nil, errs.Validation("query must start with from(logicalSourceName)", nil)
	}

	b := &queryBuilder{plan: types.NewLogicalPlan(), sources: sources}
	if err := b.applyFrom(calls[0]); err != nil {
		return nil, err
	}

	for i := 1; i < len(calls); i++ {
		c := calls[i]
		switch c.Name {
		case "filter":
			if err := b.applyFilter(c); err != nil {
				return nil, err
			}
		case "project":
			if err := b.applyProject(c); err != nil {
				return nil, err
			}
		case "joinWith":
			consumed, err := b.applyJoin(c, calls[i+1:], sources)
			if err != nil {
				return nil, err
			}
			i += consumed
		case "window":
			consumed, err := b.applyWindow(c, calls[i+1:])
			if err != nil {
				return nil, err
			}
			i += consumed
		case "sink":
			if err := b.applySink(c); err != nil {
				return nil, err
			}
		default:
			return nil, errs.Validation(fmt.Sprintf("unsupported query call %q", c.Name), nil)
		}
	}

	b.plan.Roots = []types.OperatorId{b.cur}
	return b.plan, nil
}

func (b *queryBuilder) applyFrom(c call) error {
	name := unquote(c.Args)
	schema, ok := b.sources.Schema(name)
	if !ok {
		return errs.NotFound(fmt.Sprintf("unknown logical source %q", name), nil)
	}
	originID, _, _ := b.sources.DefaultOrigin(name)
	id := b.plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSource,
		Output: schema,
		Source: &types.SourcePayload{LogicalSourceName: name, OriginID: originID},
	})
	b.cur = id
	b.schema = schema
	return nil
}

func (b *queryBuilder) applyFilter(c call) error {
	expr, err := parseCondition(c.Args)
	if err != nil {
		return errs.Validation(err.Error(), err)
	}
	id := b.plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorFilter,
		Inputs: []types.Schema{b.schema},
		Output: b.schema.Clone(),
		Filter: &types.FilterPayload{Predicate: expr},
	})
	b.plan.Connect(id, b.cur)
	b.cur = id
	return nil
}

// applyProject parses a comma list of "field" or "field.as(alias)" entries.
func (b *queryBuilder) applyProject(c call) error {
	var fields []types.ProjectField
	out := make(types.Schema, 0)
	for _, entry := range splitArgs(c.Args) {
		input := entry
		output := entry
		if idx := strings.Index(entry, ".as("); idx >= 0 {
			input = strings.TrimSpace(entry[:idx])
			output = unquote(strings.TrimSuffix(entry[idx+len(".as("):], ")"))
		}
		idx := b.schema.IndexOf(input)
		if idx < 0 {
			return errs.Validation(fmt.Sprintf("project: unknown field %q", input), nil)
		}
		fields = append(fields, types.ProjectField{Input: input, Output: output})
		out = append(out, types.Field{Name: output, Type: b.schema[idx].Type})
	}
	id := b.plan.AddNode(&types.OperatorNode{
		Kind:    types.OperatorProject,
		Inputs:  []types.Schema{b.schema},
		Output:  out,
		Project: &types.ProjectPayload{Fields: fields},
	})
	b.plan.Connect(id, b.cur)
	b.cur = id
	b.schema = out
	return nil
}

// applyJoin expects joinWith(from(...)) followed by where(leftField),
// equalsTo(rightField), window(Kind,duration) and returns how many
// trailing calls it consumed besides joinWith itself.
func (b *queryBuilder) applyJoin(c call, rest []call, sources *SourceCatalog) (int, error) {
	rightPlan, err := ParseQuery(c.Args, sources)
	if err != nil {
		return 0, err
	}
	if len(rest) < 3 || rest[0].Name != "where" || rest[1].Name != "equalsTo" || rest[2].Name != "window" {
		return 0, errs.Validation("joinWith must be followed by where(...).equalsTo(...).window(...)", nil)
	}
	leftKey := unquote(rest[0].Args)
	rightKey := unquote(rest[1].Args)
	winArgs := splitArgs(rest[2].Args)
	if len(winArgs) < 2 {
		return 0, errs.Validation("join window requires (Kind, duration)", nil)
	}
	kind, err := parseWindowKind(winArgs[0])
	if err != nil {
		return 0, errs.Validation(err.Error(), err)
	}
	size, err := parseDuration(winArgs[1])
	if err != nil {
		return 0, errs.Validation(err.Error(), err)
	}

	rightRoot := rightPlan.Roots[0]
	rightSchema := rightPlan.Get(rightRoot).Output

	// splice the right-hand subplan's nodes into the shared arena.
	remap := map[types.OperatorId]types.OperatorId{}
	for _, id := range childrenFirstOrderOf(rightPlan) {
		n := rightPlan.Get(id)
		cp := *n
		cp.Children = nil
		cp.Parents = nil
		newID := b.plan.AddNode(&cp)
		remap[id] = newID
		for _, childID := range n.Children {
			b.plan.Connect(newID, remap[childID])
		}
	}

	joined := append(b.schema.Clone(), rightSchema.Clone()...)
	id := b.plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorJoin,
		Inputs: []types.Schema{b.schema, rightSchema},
		Output: joined,
		Join: &types.JoinPayload{
			LeftKey:  leftKey,
			RightKey: rightKey,
			Window:   types.WindowDefinition{Kind: kind, Size: size, Slide: size},
			Variant:  types.JoinNestedLoop,
		},
	})
	b.plan.Connect(id, b.cur)
	b.plan.Connect(id, remap[rightRoot])
	b.cur = id
	b.schema = joined
	return 3, nil
}

// applyWindow parses window(Kind, EventTime(field), duration) optionally
// followed by byKey(field) and apply(Fn(field)), returning how many
// trailing calls besides window itself it consumed.
func (b *queryBuilder) applyWindow(c call, rest []call) (int, error) {
	args := splitArgs(c.Args)
	if len(args) < 3 {
		return 0, errs.Validation("window requires (Kind, EventTime(field), duration)", nil)
	}
	kind, err := parseWindowKind(args[0])
	if err != nil {
		return 0, errs.Validation(err.Error(), err)
	}
	timeField := args[1]
	if strings.HasPrefix(timeField, "EventTime(") {
		timeField = strings.TrimSuffix(strings.TrimPrefix(timeField, "EventTime("), ")")
	}
	size, err := parseDuration(args[2])
	if err != nil {
		return 0, errs.Validation(err.Error(), err)
	}
	slide := size
	if len(args) >= 4 {
		if slide, err = parseDuration(args[3]); err != nil {
			return 0, errs.Validation(err.Error(), err)
		}
	}

	consumed := 0
	var keys []string
	if len(rest) > 0 && rest[0].Name == "byKey" {
		keys = []string{unquote(rest[0].Args)}
		consumed++
	}

	out := append(types.Schema{}, b.schema...)
	if len(rest) > consumed && rest[consumed].Name == "apply" {
		fnArgs := strings.TrimSuffix(rest[consumed].Args, ")")
		parts := strings.SplitN(fnArgs, "(", 2)
		if len(parts) == 2 {
			aggField := strings.TrimSuffix(parts[1], ")")
			out = types.Schema{}
			out = append(out, keyFields(b.schema, keys)...)
			out = append(out, types.Field{Name: "__window_start", Type: types.FieldTypeUint64})
			out = append(out, types.Field{Name: "__window_end", Type: types.FieldTypeUint64})
			out = append(out, types.Field{Name: parts[0] + "_" + aggField, Type: types.FieldTypeInt64})
		}
		consumed++
	}

	id := b.plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorWindow,
		Inputs: []types.Schema{b.schema},
		Output: out,
		Window: &types.WindowDefinition{Kind: kind, Size: size, Slide: slide, TimeField: timeField, Keys: keys},
	})
	b.plan.Connect(id, b.cur)
	b.cur = id
	b.schema = out
	return consumed, nil
}

func keyFields(schema types.Schema, keys []string) types.Schema {
	var out types.Schema
	for _, k := range keys {
		if idx := schema.IndexOf(k); idx >= 0 {
			out = append(out, schema[idx])
		}
	}
	return out
}

func (b *queryBuilder) applySink(c call) error {
	args := strings.TrimSpace(c.Args)
	kind := args
	target := ""
	if idx := strings.Index(args, "("); idx >= 0 {
		kind = args[:idx]
		target = unquote(strings.TrimSuffix(args[idx+1:], ")"))
	}
	id := b.plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSink,
		Inputs: []types.Schema{b.schema},
		Output: b.schema.Clone(),
		Sink:   &types.SinkPayload{Kind: kind, Target: target},
	})
	b.plan.Connect(id, b.cur)
	b.cur = id
	return nil
}

// childrenFirstOrderOf does a sorted post-order DFS over a standalone
// plan's children, the same technique pkg/plan and pkg/placement use to
// walk the arena deterministically bottom-up.
func childrenFirstOrderOf(p *types.LogicalPlan) []types.OperatorId {
	var ids []types.OperatorId
	for id := range p.Nodes {
		ids = append(ids, id)
	}
	// simple insertion sort: these chains are short (single-digit nodes).
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	var order []types.OperatorId
	visited := map[types.OperatorId]bool{}
	var visit func(types.OperatorId)
	visit = func(id types.OperatorId) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, c := range p.Get(id).Children {
			visit(c)
		}
		order = append(order, id)
	}
	for _, id := range ids {
		visit(id)
	}
	return order
}
