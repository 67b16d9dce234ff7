package rules

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// conditionCostLimit bounds the work a single guard may do per evaluation.
const conditionCostLimit = 10000

// maxCompiledConditions caps how many compiled guards are kept. Edited or
// deleted conditions age out as live ones are used.
const maxCompiledConditions = 256

// programCache is an LRU of compiled conditions keyed by expression text.
type programCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
}

type programEntry struct {
	expr string
	prg  cel.Program
}

func newProgramCache(maxSize int) *programCache {
	if maxSize <= 0 {
		maxSize = maxCompiledConditions
	}
	return &programCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *programCache) get(expr string) (cel.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[expr]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*programEntry).prg, true
}

func (c *programCache) add(expr string, prg cel.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[expr]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*programEntry).prg = prg
		return
	}

	c.items[expr] = c.order.PushFront(&programEntry{expr: expr, prg: prg})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*programEntry).expr)
	}
}

func (c *programCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// conditionVars are the values a rule condition can reference.
type conditionVars struct {
	text          string
	messageCount  int
	totalMessages int
	sessionStatus string
}

func newConditionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("message_count", cel.IntType),
		cel.Variable("total_messages", cel.IntType),
		cel.Variable("session_status", cel.StringType),
	)
}

func transcriptVars(in *ScoreInput) conditionVars {
	customer := 0
	for _, m := range in.Messages {
		if m.Sender.IsCustomer() {
			customer++
		}
	}
	return conditionVars{
		text:          CustomerCorpus(in.Messages),
		messageCount:  customer,
		totalMessages: len(in.Messages),
		sessionStatus: in.SessionStatus,
	}
}

func (v conditionVars) activation() map[string]any {
	return map[string]any{
		"text":           v.text,
		"message_count":  int64(v.messageCount),
		"total_messages": int64(v.totalMessages),
		"session_status": v.sessionStatus,
	}
}

// ValidateCondition compiles expr and checks that it yields a bool.
// An empty expression is always valid. Nothing is cached.
func (e *Engine) ValidateCondition(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := e.compile(expr)
	return err
}

func (e *Engine) checkCondition(expr string, vars conditionVars) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(vars.activation())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCondition, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("%w: result is %s, not bool", ErrCondition, out.Type().TypeName())
	}
	return bool(b), nil
}

// program returns the compiled form of expr, compiling it on first use.
func (e *Engine) program(expr string) (cel.Program, error) {
	if prg, ok := e.programs.get(expr); ok {
		return prg, nil
	}

	prg, err := e.compile(expr)
	if err != nil {
		return nil, err
	}
	e.programs.add(expr, prg)
	return prg, nil
}

func (e *Engine) compile(expr string) (cel.Program, error) {
	if e.env == nil {
		return nil, fmt.Errorf("%w: no condition environment", ErrCondition)
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCondition, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrCondition, ast.OutputType())
	}

	prg, err := e.env.Program(ast, cel.CostLimit(conditionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCondition, err)
	}
	return prg, nil
}
