// Package synth renders ranked retrieval results into a bounded context
// block for prompt injection.
package synth

import (
	"sort"
	"strings"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/retrieval"
)

// DefaultBudget is the character budget applied when the caller passes zero.
const DefaultBudget = 2000

const header = "Relevant knowledge:"

// tierRank orders scopes for synthesis: session beats user beats company,
// since session facts are the most situational.
func tierRank(tier model.Tier) int {
	switch tier {
	case model.TierSession:
		return 0
	case model.TierUser:
		return 1
	default:
		return 2
	}
}

// Synthesize renders results into a context block of at most budget
// characters. The bool reports whether any memory made it into the block.
// Results are ordered session first, then user, then company, with score
// ordering inside each tier; rendering stops at the first line that would
// overflow the budget.
func Synthesize(results []retrieval.Result, budget int) (string, bool) {
	if len(results) == 0 {
		return "", false
	}
	if budget <= 0 {
		budget = DefaultBudget
	}

	ordered := make([]retrieval.Result, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := tierRank(ordered[i].Entity.Scope.Tier), tierRank(ordered[j].Entity.Scope.Tier)
		if ri != rj {
			return ri < rj
		}
		return ordered[i].Score > ordered[j].Score
	})

	var b strings.Builder
	b.WriteString(header)
	used := false
	for _, res := range ordered {
		line := "\n" + renderLine(res.Entity)
		if b.Len()+len(line) > budget {
			break
		}
		b.WriteString(line)
		used = true
	}
	if !used {
		return "", false
	}
	return b.String(), true
}

func renderLine(ent model.Entity) string {
	line := "- " + ent.Name + " (" + ent.Type + ")"
	if desc := strings.TrimSpace(ent.Description); desc != "" {
		line += ": " + desc
	}
	return line
}
