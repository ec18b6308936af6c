package similarity

// FilterCandidates returns the stories from catalog eligible as candidates
// for target: the target itself is dropped, drafts are dropped, and with
// excludeSameAuthor set, stories by the target's author are dropped. The
// input slice is never mutated and survivors keep their relative order.
func FilterCandidates(target Story, catalog []Story, excludeSameAuthor bool) []Story {
	out := make([]Story, 0, len(catalog))
	for _, c := range catalog {
		if c.ID == target.ID {
			continue
		}
		if c.Status == StatusDraft {
			continue
		}
		if excludeSameAuthor && c.AuthorID == target.AuthorID {
			continue
		}
		out = append(out, c)
	}
	return out
}
