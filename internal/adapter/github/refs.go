package github

import (
	"regexp"
	"sort"
	"strconv"
)

// Cross-reference extraction from issue and PR text. Shorthand
// references (`#123`, `closes #123`) cannot be told apart as issue or
// PR without an extra lookup, so they land in linked issues; full URLs
// are classified by path.

var (
	shorthandRe = regexp.MustCompile(`(?:^|[\s(])#(\d+)\b`)
	urlRe       = regexp.MustCompile(`github\.com/([\w.-]+/[\w.-]+)/(issues|pull)/(\d+)`)
)

func extractRefs(repo, text string) (issues, prs []int) {
	issueSet := make(map[int]bool)
	prSet := make(map[int]bool)

	for _, m := range shorthandRe.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			issueSet[n] = true
		}
	}
	for _, m := range urlRe.FindAllStringSubmatch(text, -1) {
		if m[1] != repo {
			continue
		}
		n, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		if m[2] == "pull" {
			prSet[n] = true
			delete(issueSet, n)
		} else {
			issueSet[n] = true
		}
	}

	return sortedInts(issueSet), sortedInts(prSet)
}

func sortedInts(set map[int]bool) []int {
	if len(set) == 0 {
		return nil
	}
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
