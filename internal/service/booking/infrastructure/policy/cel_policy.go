package policy

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/domain/port"
)

// CELPolicy 用 CEL 表达式描述准入规则，例如 "seats <= 6 && !event_id.startsWith('vip-')"。
// 可用变量: event_id, seats, idempotency_key, payment_reference
type CELPolicy struct {
	expression string
	program    cel.Program
}

func NewCELPolicy(expression string) (*CELPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("event_id", cel.StringType),
		cel.Variable("seats", cel.IntType),
		cel.Variable("idempotency_key", cel.StringType),
		cel.Variable("payment_reference", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	ast, iss := env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile policy %q: %w", expression, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("policy %q must evaluate to bool, got %s", expression, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build policy program: %w", err)
	}
	return &CELPolicy{expression: expression, program: program}, nil
}

func (p *CELPolicy) Admit(ctx context.Context, in port.AdmissionInput) error {
	out, _, err := p.program.ContextEval(ctx, map[string]any{
		"event_id":          in.EventID,
		"seats":             int64(in.Seats),
		"idempotency_key":   in.IdempotencyKey,
		"payment_reference": in.PaymentReference,
	})
	if err != nil {
		return fmt.Errorf("evaluate policy: %w", err)
	}
	if allowed, ok := out.Value().(bool); !ok || !allowed {
		return fmt.Errorf("%w: %s", domain.ErrRequestRejected, p.expression)
	}
	return nil
}
