package ensemble

import (
	"sort"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// tallyVotes collects one vote per (specialist, tool) pair, keyed by
// normalized tool name. Degraded perspectives contribute nothing.
func tallyVotes(perspectives []types.SpecialistPerspective) map[string][]types.Vote {
	votes := map[string][]types.Vote{}
	for _, p := range perspectives {
		for _, rec := range p.Recommendations {
			votes[rec.Name] = append(votes[rec.Name], types.Vote{
				Specialist:     p.Role,
				Tool:           rec.Name,
				Confidence:     p.Confidence,
				Weight:         p.Weight,
				Recommendation: rec,
			})
		}
	}
	return votes
}

// voteScore is the weighted mean confidence across a tool's votes:
// sum(confidence*weight) / sum(weight).
func voteScore(votes []types.Vote) float64 {
	var num, den float64
	for _, v := range votes {
		num += v.Confidence * v.Weight
		den += v.Weight
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// admitTools returns tools whose score clears the threshold, sorted by score
// descending (ties broken by name for determinism). Each admitted tool's
// recommendation is the merge of all its votes.
func admitTools(votes map[string][]types.Vote) []types.ToolRecommendation {
	type scored struct {
		rec   types.ToolRecommendation
		score float64
	}
	var admitted []scored
	for name, vs := range votes {
		s := voteScore(vs)
		logging.EnsembleDebug("vote tally %s: %.3f across %d specialists", name, s, len(vs))
		if s >= voteThreshold {
			admitted = append(admitted, scored{rec: mergeVotes(vs), score: s})
		}
	}
	sort.Slice(admitted, func(i, j int) bool {
		if admitted[i].score != admitted[j].score {
			return admitted[i].score > admitted[j].score
		}
		return admitted[i].rec.Name < admitted[j].rec.Name
	})
	out := make([]types.ToolRecommendation, len(admitted))
	for i, a := range admitted {
		out[i] = a.rec
	}
	return out
}

// mergeVotes merges recommendations for one tool across specialists. The
// protocol specialist's schema is the base; other specialists only add fields
// that the base does not define. Description and priority come from the base
// vote too, with the highest-confidence vote standing in when the protocol
// specialist did not vote.
func mergeVotes(votes []types.Vote) types.ToolRecommendation {
	base := votes[0]
	found := false
	for _, v := range votes {
		if v.Specialist == RoleProtocol {
			base = v
			found = true
			break
		}
	}
	if !found {
		for _, v := range votes[1:] {
			if v.Confidence > base.Confidence {
				base = v
			}
		}
	}

	merged := base.Recommendation
	merged.InputSchema = copySchema(base.Recommendation.InputSchema)
	for _, v := range votes {
		if v.Specialist == base.Specialist {
			continue
		}
		merged.InputSchema = layerSchema(merged.InputSchema, v.Recommendation.InputSchema)
		if merged.Description == "" {
			merged.Description = v.Recommendation.Description
		}
		if v.Recommendation.Priority.Rank() > merged.Priority.Rank() {
			merged.Priority = v.Recommendation.Priority
		}
	}
	return merged
}

func copySchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	return out
}

// layerSchema adds fields from addition that base lacks, without overwriting
// anything the base defines. The "properties" sub-object is merged one level
// deep so a specialist can contribute an extra optional parameter (e.g., a
// caching flag) to an existing schema.
func layerSchema(base, addition map[string]any) map[string]any {
	if addition == nil {
		return base
	}
	if base == nil {
		return copySchema(addition)
	}
	for k, v := range addition {
		existing, ok := base[k]
		if !ok {
			base[k] = v
			continue
		}
		if k == "properties" {
			baseProps, okb := existing.(map[string]any)
			addProps, oka := v.(map[string]any)
			if okb && oka {
				for pk, pv := range addProps {
					if _, dup := baseProps[pk]; !dup {
						baseProps[pk] = pv
					}
				}
			}
		}
	}
	return base
}
