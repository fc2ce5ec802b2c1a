//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package ir

import (
	"fmt"
	"sort"
	"strings"

	"trpc.group/trpc-go/trpc-flow-go/diag"
	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/registry"
	"trpc.group/trpc-go/trpc-flow-go/template"
)

// Validator checks a document against the registry in seven phases,
// aggregating every finding instead of stopping at the first. Compilation
// proceeds only when no error-severity diagnostic remains.
type Validator struct {
	registry *registry.Registry
	catalog  Catalog
}

// NewValidator creates a validator over the given registry. The catalog
// resolves sub-workflow refs; nil means refs never resolve.
func NewValidator(reg *registry.Registry, catalog Catalog) *Validator {
	if reg == nil {
		reg = registry.Default()
	}
	return &Validator{registry: reg, catalog: catalog}
}

// Validate runs all phases and returns the aggregated diagnostics.
func (v *Validator) Validate(doc *Document) diag.Diagnostics {
	return v.validate(doc, "", nil)
}

// validate carries the document path prefix and the ref chain for
// sub-workflow recursion.
func (v *Validator) validate(doc *Document, prefix string, refChain []string) diag.Diagnostics {
	var ds diag.Diagnostics
	if doc == nil {
		return append(ds, diag.Errorf(diag.CodeBadSchema, prefix, "document is nil"))
	}
	ds = append(ds, v.checkSchema(doc, prefix)...)
	if len(doc.Nodes) == 0 {
		// Nothing below makes sense without nodes.
		return ds
	}
	ds = append(ds, v.checkReferences(doc, prefix, refChain)...)
	ds = append(ds, v.checkInputs(doc, prefix)...)
	a := analyze(doc)
	ds = append(ds, v.checkTemplates(doc, a, prefix)...)
	ds = append(ds, checkReachability(doc, a, prefix)...)
	ds = append(ds, checkCycleBudget(doc, a, prefix)...)
	ds = append(ds, v.checkActionClosure(doc, prefix)...)
	return ds
}

// Phase 1: schema. Version tag, non-empty nodes, well-formed ids.
func (v *Validator) checkSchema(doc *Document, prefix string) diag.Diagnostics {
	var ds diag.Diagnostics
	switch doc.IRVersion {
	case Version01, Version02:
	case "":
		ds = append(ds, diag.Errorf(diag.CodeBadVersion, path(prefix, "ir_version"),
			"ir_version is required"))
	default:
		ds = append(ds, diag.Errorf(diag.CodeBadVersion, path(prefix, "ir_version"),
			"unrecognized ir_version %q (supported: %s, %s)", doc.IRVersion, Version01, Version02))
	}
	if len(doc.Nodes) == 0 {
		ds = append(ds, diag.Errorf(diag.CodeEmptyNodes, path(prefix, "nodes"),
			"at least one node required"))
		return ds
	}
	seen := make(map[string]int, len(doc.Nodes))
	for i, n := range doc.Nodes {
		p := path(prefix, fmt.Sprintf("nodes[%d]", i))
		if n.ID == "" {
			ds = append(ds, diag.Errorf(diag.CodeBadNodeID, p, "node id is required"))
			continue
		}
		if !template.IsIdentifier(n.ID) {
			ds = append(ds, diag.Errorf(diag.CodeBadNodeID, p,
				"node id %q is not a valid identifier", n.ID))
		}
		if strings.HasPrefix(n.ID, "__") {
			ds = append(ds, diag.Errorf(diag.CodeReservedNodeID, p,
				"node id %q collides with reserved namespaces", n.ID))
		}
		if prev, dup := seen[n.ID]; dup {
			ds = append(ds, diag.Errorf(diag.CodeDuplicateNodeID, p,
				"node id %q already used by nodes[%d]", n.ID, prev))
		} else {
			seen[n.ID] = i
		}
		if n.Type == "" {
			ds = append(ds, diag.Errorf(diag.CodeUnknownNodeType, p, "node type is required"))
		}
	}
	return ds
}

// Phase 2: references. Types resolve in the registry; edges and the start
// node point at existing ids; sub-workflow params resolve and recurse.
func (v *Validator) checkReferences(doc *Document, prefix string, refChain []string) diag.Diagnostics {
	var ds diag.Diagnostics
	ids := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		ids[n.ID] = true
	}
	for i, n := range doc.Nodes {
		p := path(prefix, fmt.Sprintf("nodes[%d]", i))
		if n.Type == "" {
			continue
		}
		if n.Type == TypeWorkflow {
			ds = append(ds, v.checkSubflow(n, p, refChain)...)
			continue
		}
		if !v.registry.Has(n.Type) {
			ds = append(ds, diag.Errorf(diag.CodeUnknownNodeType, p,
				"unknown node type %q", n.Type).WithHint(v.typeHint()))
		}
	}
	for i, e := range doc.Edges {
		p := path(prefix, fmt.Sprintf("edges[%d]", i))
		if !ids[e.From] {
			ds = append(ds, diag.Errorf(diag.CodeDanglingEdge, p,
				"edge source %q is not a node", e.From))
		}
		if !ids[e.To] {
			ds = append(ds, diag.Errorf(diag.CodeDanglingEdge, p,
				"edge target %q is not a node", e.To))
		}
	}
	if doc.StartNode != "" && !ids[doc.StartNode] {
		ds = append(ds, diag.Errorf(diag.CodeMissingStartNode, path(prefix, "start_node"),
			"start node %q is not a node", doc.StartNode))
	}
	return ds
}

// checkSubflow validates a workflow node's document/ref params and recurses
// into the sub-document. Ref chains that revisit a name are compile-time
// cycles.
func (v *Validator) checkSubflow(n *NodeSpec, p string, refChain []string) diag.Diagnostics {
	var ds diag.Diagnostics
	inline, hasInline := n.Params[ParamDocument]
	ref, hasRef := n.Params[ParamRef]
	switch {
	case hasInline && hasRef:
		return append(ds, diag.Errorf(diag.CodeBadParam, p,
			"workflow node declares both %q and %q", ParamDocument, ParamRef))
	case !hasInline && !hasRef:
		return append(ds, diag.Errorf(diag.CodeBadParam, p,
			"workflow node requires %q or %q", ParamDocument, ParamRef))
	case hasRef:
		name, ok := ref.(string)
		if !ok || name == "" {
			return append(ds, diag.Errorf(diag.CodeBadParam, p,
				"workflow ref must be a non-empty string"))
		}
		for _, seen := range refChain {
			if seen == name {
				return append(ds, diag.Errorf(diag.CodeCyclicCompilation, p,
					"workflow ref cycle: %s -> %s", strings.Join(refChain, " -> "), name))
			}
		}
		sub, ok := v.catalog.Resolve(name)
		if !ok {
			return append(ds, diag.Errorf(diag.CodeBadParam, p,
				"workflow ref %q not found in catalog", name))
		}
		return append(ds, v.validate(sub, p+".ref", append(refChain, name))...)
	default:
		raw, ok := inline.(map[string]any)
		if !ok {
			return append(ds, diag.Errorf(diag.CodeBadParam, p,
				"workflow document must be a mapping, got %T", inline))
		}
		sub, err := decodeInline(raw)
		if err != nil {
			return append(ds, diag.Errorf(diag.CodeBadParam, p, "inline workflow: %v", err))
		}
		return append(ds, v.validate(sub, p+".document", refChain)...)
	}
}

// Phase 3: inputs. Legal types, coercible defaults, identifier names, no
// collisions with node ids.
func (v *Validator) checkInputs(doc *Document, prefix string) diag.Diagnostics {
	var ds diag.Diagnostics
	ids := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		ids[n.ID] = true
	}
	for _, name := range sortedInputNames(doc) {
		spec := doc.Inputs[name]
		p := path(prefix, "inputs."+name)
		if !template.IsIdentifier(name) {
			ds = append(ds, diag.Errorf(diag.CodeBadInputName, p,
				"input name %q is not a valid identifier", name))
		}
		if ids[name] {
			ds = append(ds, diag.Errorf(diag.CodeBadInputName, p,
				"input name %q collides with a node id", name))
		}
		if spec == nil {
			ds = append(ds, diag.Errorf(diag.CodeBadInputType, p, "input spec is required"))
			continue
		}
		vt, err := spec.ValueType()
		if err != nil {
			ds = append(ds, diag.Errorf(diag.CodeBadInputType, p, "%v", err))
			continue
		}
		if spec.Default != nil {
			if _, err := node.Coerce(spec.Default, vt); err != nil {
				ds = append(ds, diag.Errorf(diag.CodeBadDefault, p,
					"default does not coerce to %s: %v", vt, err))
			}
		}
		if spec.Required && spec.Default == nil {
			ds = append(ds, diag.Infof(diag.CodeMissingRequiredInput, p,
				"required input %q has no default; callers must supply it", name))
		}
	}
	return ds
}

// Phase 4: params and outputs templates. Every expression parses; every
// path resolves statically to a declared input or a guaranteed predecessor.
func (v *Validator) checkTemplates(doc *Document, a *analysis, prefix string) diag.Diagnostics {
	var ds diag.Diagnostics
	for i, n := range doc.Nodes {
		p := path(prefix, fmt.Sprintf("nodes[%d].params", i))
		_, _, batch, errs := splitParams(n)
		for _, err := range errs {
			ds = append(ds, diag.Errorf(diag.CodeBadBatch, p, "%v", err))
		}
		if n.Type == TypeWorkflow {
			// The sub-document was validated in phase 2; only the outer
			// inputs param carries templates bound in this document.
			if inputs, ok := n.Params[ParamInputs]; ok {
				ds = append(ds, v.checkTemplateValue(doc, a, n.ID, "", inputs, p+"."+ParamInputs)...)
			}
			continue
		}
		// The batch bind key is a legal root inside a batched node's params;
		// it resolves per item at run time.
		var bound string
		if batch != nil {
			bound = batch.Key
		}
		for _, key := range sortedParamKeys(n.Params) {
			if isReservedParam(key) {
				continue
			}
			ds = append(ds, v.checkTemplateValue(doc, a, n.ID, bound, n.Params[key], p+"."+key)...)
		}
		// The source resolves before the bind key exists, so templates inside
		// it never see the key.
		if batch != nil {
			switch src := batch.Source.(type) {
			case string:
				ds = append(ds, v.checkTemplateString(doc, a, n.ID, "", src, p+"."+ParamBatch)...)
			case []any:
				ds = append(ds, v.checkTemplateValue(doc, a, n.ID, "", src, p+"."+ParamBatch)...)
			}
		}
	}
	for _, name := range sortedOutputNames(doc) {
		p := path(prefix, "outputs."+name)
		ds = append(ds, v.checkOutputTemplate(doc, doc.Outputs[name], p)...)
	}
	return ds
}

// checkTemplateValue walks a params-shaped value, checking every template
// string it contains.
func (v *Validator) checkTemplateValue(doc *Document, a *analysis, consumer, bound string, value any, p string) diag.Diagnostics {
	var ds diag.Diagnostics
	switch tv := value.(type) {
	case string:
		ds = append(ds, v.checkTemplateString(doc, a, consumer, bound, tv, p)...)
	case map[string]any:
		for _, key := range sortedParamKeys(tv) {
			ds = append(ds, v.checkTemplateValue(doc, a, consumer, bound, tv[key], p+"."+key)...)
		}
	case []any:
		for i, item := range tv {
			ds = append(ds, v.checkTemplateValue(doc, a, consumer, bound, item, fmt.Sprintf("%s[%d]", p, i))...)
		}
	}
	return ds
}

func (v *Validator) checkTemplateString(doc *Document, a *analysis, consumer, bound, s, p string) diag.Diagnostics {
	var ds diag.Diagnostics
	t, err := template.Parse(s)
	if err != nil {
		return append(ds, diag.Errorf(diag.CodeBadTemplate, p, "%v", err))
	}
	for _, tp := range t.Paths() {
		ds = append(ds, v.checkPath(doc, a, consumer, bound, tp, p)...)
	}
	return ds
}

// checkPath binds a path root to a workflow input, the batch bind key or a
// producing node and, when the producer declares its writes, checks the first
// field below the root against them.
func (v *Validator) checkPath(doc *Document, a *analysis, consumer, bound string, tp *template.Path, p string) diag.Diagnostics {
	var ds diag.Diagnostics
	root := tp.Root()
	if bound != "" && root == bound {
		return ds
	}
	if _, isInput := doc.Inputs[root]; isInput {
		return ds
	}
	producer, isNode := doc.Node(root)
	if !isNode {
		return append(ds, diag.Errorf(diag.CodeUnresolvedTemplate, p,
			"path %q: %q is neither a workflow input nor a node id", tp, root).
			WithHint(inputsAndNodesHint(doc)))
	}
	if consumer != "" && !a.Guaranteed(consumer, root) {
		return append(ds, diag.Errorf(diag.CodeUnresolvedTemplate, p,
			"path %q: node %q is not guaranteed to run before %q", tp, root, consumer))
	}
	ds = append(ds, v.checkWrites(producer, tp, p)...)
	return ds
}

// checkOutputTemplate validates one outputs entry. Outputs evaluate after
// the run, so any node may produce for them; the root must simply exist.
func (v *Validator) checkOutputTemplate(doc *Document, expr, p string) diag.Diagnostics {
	var ds diag.Diagnostics
	t, err := template.Parse(expr)
	if err != nil {
		return append(ds, diag.Errorf(diag.CodeBadTemplate, p, "%v", err))
	}
	for _, tp := range t.Paths() {
		root := tp.Root()
		if _, isInput := doc.Inputs[root]; isInput {
			continue
		}
		producer, isNode := doc.Node(root)
		if !isNode {
			ds = append(ds, diag.Errorf(diag.CodeUnresolvedTemplate, p,
				"path %q: %q is neither a workflow input nor a node id", tp, root).
				WithHint(inputsAndNodesHint(doc)))
			continue
		}
		ds = append(ds, v.checkWrites(producer, tp, p)...)
	}
	return ds
}

// checkWrites checks the first field segment below the root against the
// producer's declared writes. Deeper tails, index segments and nodes with
// opaque (empty) write sets cannot be checked statically. The error record
// key is always admitted: routed failures write it.
func (v *Validator) checkWrites(producer *NodeSpec, tp *template.Path, p string) diag.Diagnostics {
	writes := v.guaranteedWrites(producer)
	if len(writes) == 0 {
		return nil
	}
	segs := tp.Segments
	if len(segs) < 2 || segs[1].IsIndex {
		return nil
	}
	field := segs[1].Field
	if field == "error" || writes[field] {
		return nil
	}
	keys := make([]string, 0, len(writes))
	for k := range writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return diag.Diagnostics{diag.Errorf(diag.CodeUnresolvedTemplate, p,
		"path %q: node %q does not declare write %q", tp, producer.ID, field).
		WithHint("declared writes: " + strings.Join(keys, ", "))}
}

// guaranteedWrites returns the producer's statically known write set. Batch
// nodes write the aggregation keys regardless of the inner declaration;
// everything else follows its type's declared writes, an empty declaration
// meaning the write set is opaque.
func (v *Validator) guaranteedWrites(producer *NodeSpec) map[string]bool {
	if _, batched := producer.Params[ParamBatch]; batched {
		return map[string]bool{"results": true, "errors": true}
	}
	iface, ok := v.interfaceOf(producer)
	if !ok || len(iface.Writes) == 0 {
		return nil
	}
	writes := make(map[string]bool, len(iface.Writes))
	for _, w := range iface.Writes {
		writes[w] = true
	}
	return writes
}

// Phase 5: reachability. Warn on nodes no path from the start reaches.
func checkReachability(doc *Document, a *analysis, prefix string) diag.Diagnostics {
	var ds diag.Diagnostics
	for i, n := range doc.Nodes {
		if !a.reachable[n.ID] {
			ds = append(ds, diag.Warnf(diag.CodeUnreachableNode,
				path(prefix, fmt.Sprintf("nodes[%d]", i)),
				"node %q is unreachable from start %q", n.ID, a.start))
		}
	}
	return ds
}

// Phase 6: cycle budget. Cycles are permitted; surface them so authors
// check the visit budgets bounding them.
func checkCycleBudget(doc *Document, a *analysis, prefix string) diag.Diagnostics {
	if !a.HasCycle() {
		return nil
	}
	var cyclic []string
	for _, n := range doc.Nodes {
		if a.cyclic[n.ID] {
			cyclic = append(cyclic, n.ID)
		}
	}
	return diag.Diagnostics{diag.Infof(diag.CodeLoopBudget, path(prefix, "edges"),
		"graph cycles through %s; runs are bounded by per-node max_visits",
		strings.Join(cyclic, ", "))}
}

// Phase 7: action closure. Warn when an edge routes on an action its source
// never declares.
func (v *Validator) checkActionClosure(doc *Document, prefix string) diag.Diagnostics {
	var ds diag.Diagnostics
	for i, e := range doc.Edges {
		src, ok := doc.Node(e.From)
		if !ok {
			continue
		}
		action := e.NormalizedAction()
		iface, known := v.interfaceOf(src)
		if !known {
			continue
		}
		if !iface.DeclaresAction(action) && action != node.ActionError {
			ds = append(ds, diag.Warnf(diag.CodeUnknownAction,
				path(prefix, fmt.Sprintf("edges[%d]", i)),
				"node type %q does not declare action %q", src.Type, action).
				WithHint("declared actions: "+strings.Join(iface.Actions, ", ")))
		}
	}
	return ds
}

func (v *Validator) interfaceOf(spec *NodeSpec) (node.Interface, bool) {
	if spec.Type == TypeWorkflow {
		return subflowInterface(), true
	}
	return v.registry.Interface(spec.Type)
}

func (v *Validator) typeHint() string {
	names := v.registry.List()
	if len(names) == 0 {
		return "registry is empty"
	}
	return "registered types: " + strings.Join(names, ", ")
}

func inputsAndNodesHint(doc *Document) string {
	var names []string
	for _, name := range sortedInputNames(doc) {
		names = append(names, name)
	}
	for _, n := range doc.Nodes {
		names = append(names, n.ID)
	}
	return "available roots: " + strings.Join(names, ", ")
}

func isReservedParam(key string) bool {
	switch key {
	case ParamMaxRetries, ParamRetryDelay, ParamTimeout, ParamMaxVisits, ParamBatch:
		return true
	}
	return false
}

func path(prefix, p string) string {
	if prefix == "" {
		return p
	}
	return prefix + "." + p
}

func sortedInputNames(doc *Document) []string {
	names := make([]string, 0, len(doc.Inputs))
	for name := range doc.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedOutputNames(doc *Document) []string {
	names := make([]string, 0, len(doc.Outputs))
	for name := range doc.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedParamKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
