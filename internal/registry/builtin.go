package registry

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

//go:embed catalog/operations.cue
var onboardingCatalogCUE string

// Onboarding builds the default registry: the embedded onboarding catalog
// bound to the built-in handlers. An operation declared in the catalog
// without a matching handler is a startup error, not a run-time one.
func Onboarding() (*Registry, error) {
	specs, err := CompileCatalogString(onboardingCatalogCUE)
	if err != nil {
		return nil, err
	}
	return Bind(specs, builtinHandlers())
}

// Bind pairs catalog specs with handlers into a populated registry.
func Bind(specs []OpSpec, handlers map[string]Handler) (*Registry, error) {
	reg := New()
	for _, spec := range specs {
		handler, ok := handlers[spec.Name]
		if !ok {
			return nil, fmt.Errorf("catalog operation %q has no handler", spec.Name)
		}
		if err := reg.Register(Operation{Spec: spec, Handler: handler}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func builtinHandlers() map[string]Handler {
	return map[string]Handler{
		"case.create":        caseCreate,
		"products.add":       productsAdd,
		"entity.create":      entityCreate,
		"entity.assign-role": entityAssignRole,
		"document.catalog":   documentCatalog,
		"document.use":       documentUse,
		"attribute.set":      attributeSet,
		"kyc.start":          kycStart,
		"kyc.approve":        kycApprove,
		"scope.select":       scopeSelect,
	}
}

// scalarArg renders an argument as its plain-string form. Alias references
// are already resolved to concrete values by the executor before dispatch.
func scalarArg(args ir.ArgMap, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := ir.LiteralString(v)
	if !ok {
		return "", fmt.Errorf("argument %q is not a scalar", name)
	}
	return s, nil
}

func optionalArg(args ir.ArgMap, name string) (string, bool) {
	v, ok := args[name]
	if !ok {
		return "", false
	}
	s, ok := ir.LiteralString(v)
	return s, ok
}

func caseCreate(ctx context.Context, ec *ExecContext, args ir.ArgMap) (ir.ArgMap, error) {
	ref, err := scalarArg(args, "business-ref")
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	_, err = ec.Tx.ExecContext(ctx, `
		INSERT INTO cases (id, business_ref, kyc_status)
		VALUES (?, ?, 'none')
	`, id, ref)
	if err != nil {
		return nil, fmt.Errorf("create case %s: %w", ref, err)
	}
	return ir.ArgMap{"id": ir.ArgString(id)}, nil
}

func productsAdd(ctx context.Context, ec *ExecContext, args ir.ArgMap) (ir.ArgMap, error) {
	caseID, err := scalarArg(args, "case")
	if err != nil {
		return nil, err
	}
	list, ok := args["products"].(ir.ArgList)
	if !ok {
		return nil, fmt.Errorf("products must be a list")
	}
	for _, p := range list {
		product, ok := ir.LiteralString(p)
		if !ok {
			return nil, fmt.Errorf("product entries must be scalars")
		}
		if _, err := ec.Tx.ExecContext(ctx, `
			INSERT INTO case_products (case_id, product)
			VALUES (?, ?)
			ON CONFLICT(case_id, product) DO NOTHING
		`, caseID, product); err != nil {
			return nil, fmt.Errorf("add product %s: %w", product, err)
		}
	}
	return ir.ArgMap{}, nil
}

func entityCreate(ctx context.Context, ec *ExecContext, args ir.ArgMap) (ir.ArgMap, error) {
	name, err := scalarArg(args, "name")
	if err != nil {
		return nil, err
	}
	kind, _ := optionalArg(args, "kind")
	id := uuid.New().String()
	_, err = ec.Tx.ExecContext(ctx, `
		INSERT INTO entities (id, name, kind)
		VALUES (?, ?, ?)
	`, id, name, kind)
	if err != nil {
		return nil, fmt.Errorf("create entity %q: %w", name, err)
	}
	return ir.ArgMap{"id": ir.ArgString(id)}, nil
}

func entityAssignRole(ctx context.Context, ec *ExecContext, args ir.ArgMap) (ir.ArgMap, error) {
	entity, err := scalarArg(args, "entity")
	if err != nil {
		return nil, err
	}
	role, err := scalarArg(args, "role")
	if err != nil {
		return nil, err
	}
	caseID, _ := optionalArg(args, "case")
	_, err = ec.Tx.ExecContext(ctx, `
		INSERT INTO entity_roles (entity_id, role, case_id)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_id, role) DO UPDATE SET case_id = excluded.case_id
	`, entity, role, caseID)
	if err != nil {
		return nil, fmt.Errorf("assign role %s to %s: %w", role, entity, err)
	}
	return ir.ArgMap{}, nil
}

func documentCatalog(ctx context.Context, ec *ExecContext, args ir.ArgMap) (ir.ArgMap, error) {
	title, err := scalarArg(args, "title")
	if err != nil {
		return nil, err
	}
	docType, err := scalarArg(args, "document-type")
	if err != nil {
		return nil, err
	}
	entity, _ := optionalArg(args, "entity")
	id := uuid.New().String()
	_, err = ec.Tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, doc_type, entity_id, used)
		VALUES (?, ?, ?, ?, 0)
	`, id, title, docType, entity)
	if err != nil {
		return nil, fmt.Errorf("catalog document %q: %w", title, err)
	}
	return ir.ArgMap{"id": ir.ArgString(id)}, nil
}

func documentUse(ctx context.Context, ec *ExecContext, args ir.ArgMap) (ir.ArgMap, error) {
	doc, err := scalarArg(args, "document")
	if err != nil {
		return nil, err
	}
	res, err := ec.Tx.ExecContext(ctx, `UPDATE documents SET used = 1 WHERE id = ?`, doc)
	if err != nil {
		return nil, fmt.Errorf("use document %s: %w", doc, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("document %s is not catalogued", doc)
	}
	return ir.ArgMap{}, nil
}

func attributeSet(ctx context.Context, ec *ExecContext, args ir.ArgMap) (ir.ArgMap, error) {
	entity, err := scalarArg(args, "entity")
	if err != nil {
		return nil, err
	}
	attribute, err := scalarArg(args, "attribute")
	if err != nil {
		return nil, err
	}
	value, err := scalarArg(args, "value")
	if err != nil {
		return nil, err
	}
	_, err = ec.Tx.ExecContext(ctx, `
		INSERT INTO entity_attributes (entity_id, attribute, value)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_id, attribute) DO UPDATE SET value = excluded.value
	`, entity, attribute, value)
	if err != nil {
		return nil, fmt.Errorf("set attribute %s on %s: %w", attribute, entity, err)
	}
	return ir.ArgMap{}, nil
}

func kycStart(ctx context.Context, ec *ExecContext, args ir.ArgMap) (ir.ArgMap, error) {
	caseID, err := scalarArg(args, "case")
	if err != nil {
		return nil, err
	}
	return ir.ArgMap{}, setKYCStatus(ctx, ec, caseID, "in_review")
}

func kycApprove(ctx context.Context, ec *ExecContext, args ir.ArgMap) (ir.ArgMap, error) {
	caseID, err := scalarArg(args, "case")
	if err != nil {
		return nil, err
	}
	approved, ok := args["approved"].(ir.ArgBool)
	if !ok {
		return nil, fmt.Errorf("approved must be a boolean")
	}
	status := "rejected"
	if approved {
		status = "approved"
	}
	return ir.ArgMap{}, setKYCStatus(ctx, ec, caseID, status)
}

func setKYCStatus(ctx context.Context, ec *ExecContext, caseID, status string) error {
	res, err := ec.Tx.ExecContext(ctx, `UPDATE cases SET kyc_status = ? WHERE id = ?`, status, caseID)
	if err != nil {
		return fmt.Errorf("set kyc status %s: %w", status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("case %s does not exist", caseID)
	}
	return nil
}

func scopeSelect(ctx context.Context, ec *ExecContext, args ir.ArgMap) (ir.ArgMap, error) {
	caseID, err := scalarArg(args, "case")
	if err != nil {
		return nil, err
	}
	scope, err := scalarArg(args, "scope")
	if err != nil {
		return nil, err
	}
	res, err := ec.Tx.ExecContext(ctx, `UPDATE cases SET scope = ? WHERE id = ?`, scope, caseID)
	if err != nil {
		return nil, fmt.Errorf("select scope %s: %w", scope, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("case %s does not exist", caseID)
	}
	return ir.ArgMap{}, nil
}
