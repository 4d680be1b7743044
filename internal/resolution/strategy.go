package resolution

import (
	"math"
	"sort"
	"strings"

	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// Tier is the scope in which a candidate was found
type Tier int

const (
	TierNone Tier = iota
	TierSameFile
	TierSameModule
	TierGlobal
	TierFuzzy
	// TierSemantic candidates come from a language's SemanticResolver
	TierSemantic
)

func (t Tier) String() string {
	switch t {
	case TierSameFile:
		return "same_file"
	case TierSameModule:
		return "same_module"
	case TierGlobal:
		return "global"
	case TierFuzzy:
		return "fuzzy"
	case TierSemantic:
		return "semantic"
	}
	return "none"
}

// Policy holds the confidence weight of each tier. A zero weight disables
// the tier.
type Policy struct {
	SameFile   float64
	SameModule float64
	Global     float64
	Fuzzy      float64
	// Semantic weighs language-specific fallback matches. It sits below
	// Global and above Fuzzy.
	Semantic float64
	// SuffixPenalty is subtracted when a candidate matches only by a
	// qualified suffix rather than by its exact name
	SuffixPenalty float64
}

// Default policies
var (
	DefaultCallPolicy   = Policy{SameFile: 0.95, SameModule: 0.80, Global: 0.60, Semantic: 0.55, SuffixPenalty: 0.05}
	DefaultImportPolicy = Policy{SameFile: 0.90, SameModule: 0.70, Global: 0.50, Semantic: 0.45, Fuzzy: 0.30, SuffixPenalty: 0.05}
)

// DefaultCommonNames are container-method names too generic to resolve by
// file-local or workspace-wide uniqueness
var DefaultCommonNames = []string{
	"add", "clear", "dedup", "extend", "insert", "pop", "push",
	"remove", "sort", "sort_by", "sort_by_key", "truncate",
}

// Selection is the outcome of resolving one edge. A nil Target leaves the
// edge unresolved.
type Selection struct {
	Target     *types.NodeID
	Confidence float64
	// Candidates holds the tie set when several candidates share the top score
	Candidates []types.NodeID
	Ambiguous  bool
	Tier       Tier
}

// Strategy parameterizes a resolution pass for one edge kind
type Strategy interface {
	EdgeKind() types.EdgeKind
	CandidateKinds() []types.NodeKind
	// StaleFloor retracts resolutions at or below this confidence
	StaleFloor() float64
	Select(idx *CandidateIndex, row storage.UnresolvedEdgeRow) Selection
}

// CallStrategy resolves CALL edges to functions, methods and macros
type CallStrategy struct {
	Policy      Policy
	CommonNames map[string]struct{}
	Floor       float64
	// Semantic is consulted when no tier finds a candidate. Nil disables it.
	Semantic *SemanticResolvers
}

// NewCallStrategy creates the CALL strategy with the default semantic
// resolvers. Nil commonNames uses DefaultCommonNames.
func NewCallStrategy(policy Policy, commonNames []string) *CallStrategy {
	if commonNames == nil {
		commonNames = DefaultCommonNames
	}
	names := make(map[string]struct{}, len(commonNames))
	for _, n := range commonNames {
		names[n] = struct{}{}
	}
	return &CallStrategy{Policy: policy, CommonNames: names, Floor: 0.4, Semantic: DefaultSemanticResolvers()}
}

func (s *CallStrategy) EdgeKind() types.EdgeKind { return types.EdgeCall }

func (s *CallStrategy) CandidateKinds() []types.NodeKind {
	return []types.NodeKind{types.NodeFunction, types.NodeMethod, types.NodeMacro}
}

func (s *CallStrategy) StaleFloor() float64 { return s.Floor }

// Select looks in the caller's file, then its module, then everywhere, then
// asks the caller's language. Common names are only resolved inside the
// caller's module, or by a semantic match in the caller's file or class.
func (s *CallStrategy) Select(idx *CandidateIndex, row storage.UnresolvedEdgeRow) Selection {
	policy := s.Policy
	_, common := s.CommonNames[lastSegment(row.TargetName)]
	if common {
		policy.SameFile = 0
		policy.Global = 0
	}
	policy.Fuzzy = 0
	if sel := selectCandidate(idx, row, policy); sel.Target != nil {
		return sel
	}
	return selectSemantic(s.Semantic, types.EdgeCall, idx, row, policy, common)
}

// ImportStrategy resolves IMPORT edges to modules, namespaces and packages
type ImportStrategy struct {
	Policy Policy
	Floor  float64
	// Semantic is consulted before the fuzzy fallback. Nil disables it.
	Semantic *SemanticResolvers
}

// NewImportStrategy creates the IMPORT strategy with the default semantic
// resolvers
func NewImportStrategy(policy Policy) *ImportStrategy {
	return &ImportStrategy{Policy: policy, Semantic: DefaultSemanticResolvers()}
}

func (s *ImportStrategy) EdgeKind() types.EdgeKind { return types.EdgeImport }

func (s *ImportStrategy) CandidateKinds() []types.NodeKind {
	return []types.NodeKind{types.NodeModule, types.NodeNamespace, types.NodePackage}
}

func (s *ImportStrategy) StaleFloor() float64 { return s.Floor }

// Select matches the imported path exactly or by suffix, then asks the
// importing file's language, then falls back to the path's last segment
func (s *ImportStrategy) Select(idx *CandidateIndex, row storage.UnresolvedEdgeRow) Selection {
	policy := s.Policy
	policy.Fuzzy = 0
	if sel := selectCandidate(idx, row, policy); sel.Target != nil {
		return sel
	}
	if sel := selectSemantic(s.Semantic, types.EdgeImport, idx, row, policy, false); sel.Target != nil {
		return sel
	}
	return selectFuzzy(idx, row, s.Policy)
}

type scored struct {
	Candidate
	score float64
}

// selectCandidate runs the tiered lookup shared by every strategy
func selectCandidate(idx *CandidateIndex, row storage.UnresolvedEdgeRow, policy Policy) Selection {
	written := row.TargetName
	pool := idx.Lookup(written)
	if len(pool) == 0 {
		return Selection{}
	}

	tiers := []struct {
		tier   Tier
		weight float64
	}{
		{TierSameFile, policy.SameFile},
		{TierSameModule, policy.SameModule},
		{TierGlobal, policy.Global},
	}
	for _, t := range tiers {
		if t.weight <= 0 {
			continue
		}
		var matches []scored
		for _, c := range pool {
			exact, suffix := matchName(c, written)
			if !exact && !suffix {
				continue
			}
			if tierOf(c, row) != t.tier {
				continue
			}
			score := t.weight
			if !exact {
				score -= policy.SuffixPenalty
			}
			matches = append(matches, scored{Candidate: c, score: score})
		}
		if len(matches) > 0 {
			return choose(matches, t.tier)
		}
	}

	return selectFuzzy(idx, row, policy)
}

// selectFuzzy takes every candidate sharing the written name's last segment
func selectFuzzy(idx *CandidateIndex, row storage.UnresolvedEdgeRow, policy Policy) Selection {
	pool := idx.Lookup(row.TargetName)
	if policy.Fuzzy <= 0 || len(pool) == 0 {
		return Selection{}
	}
	matches := make([]scored, 0, len(pool))
	for _, c := range pool {
		matches = append(matches, scored{Candidate: c, score: policy.Fuzzy})
	}
	return choose(matches, TierFuzzy)
}

// selectSemantic scores the matches of the resolver for the row's file.
// nearOnly drops distant matches.
func selectSemantic(resolvers *SemanticResolvers, kind types.EdgeKind, idx *CandidateIndex, row storage.UnresolvedEdgeRow, policy Policy, nearOnly bool) Selection {
	if policy.Semantic <= 0 {
		return Selection{}
	}
	resolver, ok := resolvers.For(row.FilePath)
	if !ok {
		return Selection{}
	}
	var matches []scored
	for _, m := range resolver.Resolve(kind, idx, row) {
		if m.Distant && nearOnly {
			continue
		}
		score := policy.Semantic
		if m.Distant {
			score -= policy.SuffixPenalty
		}
		matches = append(matches, scored{Candidate: m.Candidate, score: score})
	}
	if len(matches) == 0 {
		return Selection{}
	}
	return choose(matches, TierSemantic)
}

// matchName compares a candidate with the name an edge was written with
func matchName(c Candidate, written string) (exact, suffix bool) {
	if c.Name == written || c.Qualified == written {
		return true, false
	}
	return false, endsAtBoundary(c.Qualified, written) || endsAtBoundary(written, c.Qualified)
}

func tierOf(c Candidate, row storage.UnresolvedEdgeRow) Tier {
	if c.FileNodeID != nil && row.FileNodeID != nil && *c.FileNodeID == *row.FileNodeID {
		return TierSameFile
	}
	if sameModule(row.CallerQualifiedName, c.Qualified) {
		return TierSameModule
	}
	return TierGlobal
}

// sameModule reports whether the candidate's container encloses the
// caller's container
func sameModule(caller, candidate string) bool {
	cc, callerC := container(candidate), container(caller)
	if cc == callerC {
		return true
	}
	if cc == "" {
		return false
	}
	return strings.HasPrefix(callerC, cc+".") || strings.HasPrefix(callerC, cc+"::")
}

const scoreEpsilon = 1e-9

// choose orders matches (score descending, then qualified name, then id) and
// picks the first. A tie at the top keeps the whole tie set.
func choose(matches []scored, tier Tier) Selection {
	sort.Slice(matches, func(i, j int) bool {
		if math.Abs(matches[i].score-matches[j].score) > scoreEpsilon {
			return matches[i].score > matches[j].score
		}
		if matches[i].Qualified != matches[j].Qualified {
			return matches[i].Qualified < matches[j].Qualified
		}
		return matches[i].ID < matches[j].ID
	})

	top := matches[0]
	sel := Selection{
		Target:     types.Ptr(top.ID),
		Confidence: top.score,
		Tier:       tier,
	}
	for _, m := range matches {
		if math.Abs(m.score-top.score) > scoreEpsilon {
			break
		}
		sel.Candidates = append(sel.Candidates, m.ID)
	}
	if len(sel.Candidates) > 1 {
		sel.Ambiguous = true
	} else {
		sel.Candidates = nil
	}
	return sel
}
