package suggest

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/reynard-dev/nlweb/internal/tools"
)

// Scoring weights. Changing these changes which tools surface for a query,
// so they are fixed constants rather than configuration.
const (
	priorityWeight = 0.1
	nameMatchBonus = 40.0
	descTokenBonus = 10.0
	tagMatchBonus  = 15.0
	preferredBonus = 20.0
	categoryBonus  = 15.0
	maxScore       = 100.0
)

// paramPattern matches inline "name=value" or "name: value" assignments
// in a query.
var paramPattern = regexp.MustCompile(`(\w+)\s*[:=]\s*(\S+)`)

// scoreTools ranks every enabled tool against the query, keeping only
// suggestions at or above minScore, at most maxSuggestions of them. The
// sort is stable, so equal scores keep registry registration order. The
// second return is how many tools were considered.
func scoreTools(reg registrySource, query string, ctx *Context, maxSuggestions int, minScore float64, includeReasoning bool) ([]Suggestion, int) {
	queryLower := strings.ToLower(query)
	queryTokens := tokenize(queryLower)
	enabled := reg.Enabled()

	var out []Suggestion
	for _, t := range enabled {
		score, reasoning := scoreTool(&t, queryLower, queryTokens, ctx)
		if score < minScore {
			continue
		}
		s := Suggestion{
			Tool:       t.Name,
			Score:      score,
			Parameters: extractParameters(&t, query),
			Hints:      parameterHints(&t, ctx),
			Category:   t.Category,
		}
		if includeReasoning {
			s.Reasoning = strings.Join(reasoning, "; ")
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	if maxSuggestions > 0 && len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out, len(enabled)
}

// scoreTool computes one tool's score and the ordered trail of rules that
// fired.
func scoreTool(t *tools.Tool, queryLower string, queryTokens []string, ctx *Context) (float64, []string) {
	score := float64(t.Priority) * priorityWeight
	reasoning := []string{fmt.Sprintf("Base priority: %d", t.Priority)}

	nameLower := strings.ToLower(t.Name)
	nameSpaced := strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}
		return r
	}, nameLower)
	if strings.Contains(queryLower, nameLower) || strings.Contains(queryLower, nameSpaced) {
		score += nameMatchBonus
		reasoning = append(reasoning, "Tool name matches query")
	}

	descTokens := tokenSet(strings.ToLower(t.Description))
	matched := 0
	for _, tok := range queryTokens {
		if descTokens[tok] {
			matched++
		}
	}
	if matched > 0 {
		score += float64(matched) * descTokenBonus
		reasoning = append(reasoning, fmt.Sprintf("Description matches %d keyword(s)", matched))
	}

	var tagHits []string
	for _, tag := range t.Tags {
		if strings.Contains(queryLower, strings.ToLower(tag)) {
			tagHits = append(tagHits, tag)
		}
	}
	if len(tagHits) > 0 {
		score += float64(len(tagHits)) * tagMatchBonus
		reasoning = append(reasoning, "Tag matches: "+strings.Join(tagHits, ", "))
	}

	if ctx != nil {
		if ctx.Preferences != nil {
			for _, name := range ctx.Preferences.PreferredTools {
				if name == t.Name {
					score += preferredBonus
					reasoning = append(reasoning, "Preferred tool")
					break
				}
			}
		}
		if ctx.AppState != nil && ctx.AppState.CurrentCategory != "" &&
			ctx.AppState.CurrentCategory == t.Category {
			score += categoryBonus
			reasoning = append(reasoning, "Category matches current context")
		}
	}

	if score > maxScore {
		score = maxScore
	}
	if score < 0 {
		score = 0
	}
	return score, reasoning
}

// extractParameters pulls inline name=value assignments out of the query
// for parameters the tool declares, converting to the declared type.
// Unparseable values are skipped rather than passed through raw.
func extractParameters(t *tools.Tool, query string) map[string]any {
	if len(t.Parameters) == 0 {
		return nil
	}
	declared := make(map[string]tools.ParameterType, len(t.Parameters))
	for _, p := range t.Parameters {
		declared[p.Name] = p.Type
	}

	var params map[string]any
	for _, m := range paramPattern.FindAllStringSubmatch(query, -1) {
		name, raw := m[1], m[2]
		typ, ok := declared[name]
		if !ok {
			continue
		}
		val, ok := convertParam(raw, typ)
		if !ok {
			continue
		}
		if params == nil {
			params = make(map[string]any)
		}
		params[name] = val
	}
	return params
}

func convertParam(raw string, typ tools.ParameterType) (any, bool) {
	switch typ {
	case tools.TypeString:
		return strings.Trim(raw, `"'`), true
	case tools.TypeNumber:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n, true
		}
		return nil, false
	case tools.TypeBoolean:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// parameterHints describes each declared parameter and, where the context
// allows, suggests a value: the current path for path parameters, the
// first selected item for file parameters, the active branch for branch
// parameters.
func parameterHints(t *tools.Tool, ctx *Context) map[string]any {
	if len(t.Parameters) == 0 {
		return nil
	}
	hints := make(map[string]any, len(t.Parameters))
	for _, p := range t.Parameters {
		h := map[string]any{
			"type":        string(p.Type),
			"required":    p.Required,
			"description": p.Description,
		}
		if ctx != nil {
			switch p.Name {
			case "path":
				if ctx.CurrentPath != "" {
					h["suggested"] = ctx.CurrentPath
				}
			case "file":
				if len(ctx.SelectedItems) > 0 {
					h["suggested"] = ctx.SelectedItems[0]
				}
			case "branch":
				if ctx.GitStatus != nil && ctx.GitStatus.Branch != "" {
					h["suggested"] = ctx.GitStatus.Branch
				}
			}
		}
		hints[p.Name] = h
	}
	return hints
}

// tokenize splits on whitespace only. Punctuation stays attached to its
// token, so "file:" does not earn description credit for "file".
func tokenize(s string) []string {
	return strings.Fields(s)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(s) {
		set[tok] = true
	}
	return set
}
