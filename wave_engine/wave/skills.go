package wave

// Wave numbers. Wave 0 is reserved for agents currently on duty (never
// notified); wave 1 is the duty assignment's own team; waves 2-5 escalate
// outward by skill similarity to the requester.
const (
	WaveOnDuty        = 0
	WaveSameTeam      = 1
	WaveIdenticalSkls = 2
	WaveVerySimilar   = 3
	WaveSimilar       = 4
	WaveEveryoneElse  = 5

	MaxWave = 5
)

// apprenticeSkills are introductory certifications that carry no weight:
// holding or lacking one says nothing about replaceability.
var apprenticeSkills = map[string]bool{
	"Apprenant SUAP": true,
	"Apprenant PPBE": true,
	"Apprenant INC":  true,
}

// Similarity thresholds for wave classification.
const (
	verySimilarThreshold = 0.8
	similarThreshold     = 0.6
)

// Candidate is the slice of an agent the wave calculation needs.
type Candidate struct {
	ID     string
	Team   string
	Skills []string
}

// RarityWeights assigns each requester skill a scarcity weight based on how
// many station agents hold it. The scarcer a qualification, the harder the
// requester is to replace, so mismatches on it push a candidate to a later
// wave. Apprentice-level skills always weigh 0.
func RarityWeights(members []Candidate, requesterSkills []string) map[string]int {
	counts := make(map[string]int)
	for _, m := range members {
		for _, skill := range m.Skills {
			counts[skill]++
		}
	}

	weights := make(map[string]int, len(requesterSkills))
	for _, skill := range requesterSkills {
		if apprenticeSkills[skill] {
			weights[skill] = 0
			continue
		}
		switch count := counts[skill]; {
		case count <= 1:
			weights[skill] = 10
		case count == 2:
			weights[skill] = 5
		case count == 3:
			weights[skill] = 3
		default:
			weights[skill] = 1
		}
	}
	return weights
}

// sameSkillSet reports whether two skill lists describe the same set.
func sameSkillSet(a, b []string) bool {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) != len(setB) {
		return false
	}
	for skill := range setA {
		if !setB[skill] {
			return false
		}
	}
	return true
}

func toSet(skills []string) map[string]bool {
	set := make(map[string]bool, len(skills))
	for _, s := range skills {
		set[s] = true
	}
	return set
}

// Similarity computes the weighted skill similarity between a requester and
// a candidate, in [0, 1]. Skills missing from the weight map default to
// weight 1. Candidates carrying more than two skills the requester lacks are
// penalized 0.1 per extra skill.
func Similarity(requesterSkills, candidateSkills []string, weights map[string]int) float64 {
	if len(requesterSkills) == 0 {
		return 0
	}

	candidateSet := toSet(candidateSkills)

	var total, matched float64
	for _, skill := range requesterSkills {
		w := 1.0
		if rw, ok := weights[skill]; ok {
			w = float64(rw)
		}
		total += w
		if candidateSet[skill] {
			matched += w
		}
	}
	if total == 0 {
		return 0
	}

	requesterSet := toSet(requesterSkills)
	extra := 0
	for _, skill := range candidateSkills {
		if !requesterSet[skill] {
			extra++
		}
	}
	penalty := 0.0
	if extra > 2 {
		penalty = 0.1 * float64(extra)
	}

	similarity := matched/total - penalty
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}

// ClassifyBySkills maps a candidate into waves 2-5. Identical skill sets go
// to wave 2 unconditionally; otherwise the weighted similarity decides.
func ClassifyBySkills(requesterSkills, candidateSkills []string, weights map[string]int) int {
	if sameSkillSet(requesterSkills, candidateSkills) {
		return WaveIdenticalSkls
	}

	similarity := Similarity(requesterSkills, candidateSkills, weights)
	switch {
	case similarity >= verySimilarThreshold:
		return WaveVerySimilar
	case similarity >= similarThreshold:
		return WaveSimilar
	default:
		return WaveEveryoneElse
	}
}

// Calculate assigns a candidate its full wave number (0-5) for a request.
// onDuty holds the ids currently assigned to the duty period.
func Calculate(requester, candidate Candidate, assignmentTeam string, onDuty []string, weights map[string]int) int {
	for _, id := range onDuty {
		if id == candidate.ID {
			return WaveOnDuty
		}
	}
	if candidate.Team == assignmentTeam {
		return WaveSameTeam
	}
	return ClassifyBySkills(requester.Skills, candidate.Skills, weights)
}
