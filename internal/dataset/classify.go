package dataset

// AverageReward computes the reward average for a set of annotations: the sum
// of non-nil rewards divided by the total annotation count. Annotations
// without a reward still dilute the average. The second return is false when
// no annotation carries a usable reward.
func AverageReward(anns []Annotation) (float64, bool) {
	if len(anns) == 0 {
		return 0, false
	}

	var sum float64
	scored := 0
	for _, a := range anns {
		if a.Reward != nil {
			sum += *a.Reward
			scored++
		}
	}
	if scored == 0 {
		return 0, false
	}
	return sum / float64(len(anns)), true
}

// IsSFTExample reports whether a candidate qualifies as a supervised
// fine-tuning example: its average reward must reach threshold (inclusive)
// and, when the project has an active schema, its content must validate
// against it.
func IsSFTExample(c Candidate, schema *Schema, threshold float64) bool {
	avg, ok := AverageReward(c.Target.Annotations)
	if !ok || avg < threshold {
		return false
	}
	return schema.Accepts(c.Content)
}

// IsDPONegativeExample reports whether a candidate qualifies as the rejected
// side of a preference pair: its average reward must be strictly below
// threshold. Schema compliance is still required — a negative example teaches
// "worse", not "malformed", so structurally invalid output never qualifies.
func IsDPONegativeExample(c Candidate, schema *Schema, threshold float64) bool {
	avg, ok := AverageReward(c.Target.Annotations)
	if !ok || avg >= threshold {
		return false
	}
	return schema.Accepts(c.Content)
}

// IsDPOReady reports whether a request can contribute at least one preference
// pair: some candidate passes the SFT check and some candidate passes the
// DPO-negative check. The two may be the same target here; pairing excludes
// same-target pairs later.
func IsDPOReady(r Request, schema *Schema, t Thresholds) bool {
	var hasPositive, hasNegative bool
	for _, c := range r.Candidates() {
		if !hasPositive && IsSFTExample(c, schema, t.SFT) {
			hasPositive = true
		}
		if !hasNegative && IsDPONegativeExample(c, schema, t.DPONegative) {
			hasNegative = true
		}
		if hasPositive && hasNegative {
			return true
		}
	}
	return false
}
